package render

import (
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/naka-gawa/gerrit-stats/internal/domain"
)

// Palette is a complete colour set for one display mode.
// Scale[0] is "no activity", Scale[4] is peak activity.
type Palette struct {
	Background string
	Border     string
	Title      string
	Text       string
	Muted      string
	Scale      [5]string
	Dark       bool
}

// Theme is a named palette. When DarkVariant is set the SVG embeds both and
// switches with prefers-color-scheme.
type Theme struct {
	Name        string
	Palette     Palette
	DarkVariant *Palette
}

var (
	githubLight = Palette{
		Background: "#ffffff", Border: "#d0d7de", Title: "#24292f", Text: "#57606a", Muted: "#6e7781",
		Scale: [5]string{"#ebedf0", "#9be9a8", "#40c463", "#30a14e", "#216e39"},
	}
	githubDark = Palette{
		Background: "#0d1117", Border: "#30363d", Title: "#c9d1d9", Text: "#8b949e", Muted: "#6e7781",
		Scale: [5]string{"#161b22", "#0e4429", "#006d32", "#26a641", "#39d353"},
		Dark:  true,
	}
)

var themes = map[string]Theme{
	"github":       {Name: "github", Palette: githubLight, DarkVariant: &githubDark},
	"github-light": {Name: "github-light", Palette: githubLight},
	"github-dark":  {Name: "github-dark", Palette: githubDark},
	"solarized-light": {Name: "solarized-light", Palette: Palette{
		Background: "#fdf6e3", Border: "#93a1a1", Title: "#073642", Text: "#657b83", Muted: "#93a1a1",
		Scale: [5]string{"#eee8d5", "#b5d5a8", "#6dbf67", "#3a9443", "#1a6e29"},
	}},
	"solarized-dark": {Name: "solarized-dark", Palette: Palette{
		Background: "#002b36", Border: "#073642", Title: "#93a1a1", Text: "#657b83", Muted: "#586e75",
		Scale: [5]string{"#073642", "#0a3828", "#0a6640", "#1a8c52", "#2ab567"},
		Dark:  true,
	}},
	"gruvbox-dark": {Name: "gruvbox-dark", Palette: Palette{
		Background: "#282828", Border: "#504945", Title: "#ebdbb2", Text: "#a89984", Muted: "#7c6f64",
		Scale: [5]string{"#3c3836", "#1d4a26", "#2d6a2f", "#3d8c3d", "#52b452"},
		Dark:  true,
	}},
	"gruvbox-light": {Name: "gruvbox-light", Palette: Palette{
		Background: "#fbf1c7", Border: "#d5c4a1", Title: "#3c3836", Text: "#665c54", Muted: "#928374",
		Scale: [5]string{"#f2e5bc", "#b8d8a8", "#6dbf67", "#3a9443", "#1a6e29"},
	}},
	"tokyo-night": {Name: "tokyo-night", Palette: Palette{
		Background: "#1a1b26", Border: "#292e42", Title: "#c0caf5", Text: "#a9b1d6", Muted: "#565f89",
		Scale: [5]string{"#24283b", "#0d3b2e", "#1a6b3c", "#26a651", "#39d353"},
		Dark:  true,
	}},
	"dracula": {Name: "dracula", Palette: Palette{
		Background: "#282a36", Border: "#44475a", Title: "#f8f8f2", Text: "#6272a4", Muted: "#44475a",
		Scale: [5]string{"#44475a", "#1a3d2b", "#2d6a35", "#3d9140", "#50bd55"},
		Dark:  true,
	}},
	"catppuccin-mocha": {Name: "catppuccin-mocha", Palette: Palette{
		Background: "#1e1e2e", Border: "#313244", Title: "#cdd6f4", Text: "#a6adc8", Muted: "#6c7086",
		Scale: [5]string{"#313244", "#1a4731", "#1f6e3c", "#2a9c51", "#39d353"},
		Dark:  true,
	}},
}

// DefaultTheme is used when no theme is configured.
const DefaultTheme = "github"

// ThemeByName looks up a built-in theme.
func ThemeByName(name string) (Theme, error) {
	t, ok := themes[name]
	if !ok {
		return Theme{}, fmt.Errorf("%w %q; valid names: %v", domain.ErrUnknownTheme, name, ThemeNames())
	}
	return t, nil
}

// ThemeNames returns the built-in theme names in sorted order.
func ThemeNames() []string {
	names := make([]string, 0, len(themes))
	for name := range themes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// hueRamp is the level 1-4 colours of one hue for light and dark backgrounds.
type hueRamp struct {
	name  string
	light [4]string
	dark  [4]string
}

var hueRamps = []hueRamp{
	{"green", [4]string{"#9be9a8", "#40c463", "#30a14e", "#216e39"}, [4]string{"#0e4429", "#006d32", "#26a641", "#39d353"}},
	{"blue", [4]string{"#a8d8f0", "#5ba3d9", "#1a6eb5", "#0d4a8c"}, [4]string{"#0d2940", "#0d4a8c", "#1a6eb5", "#2e93d9"}},
	{"purple", [4]string{"#d4b8f0", "#a370d9", "#7a3cba", "#531e8c"}, [4]string{"#2a1040", "#4d1e8c", "#7a3cba", "#a855d9"}},
	{"orange", [4]string{"#ffd199", "#ffaa44", "#e07b00", "#a85200"}, [4]string{"#401d00", "#8c3d00", "#cc6600", "#ff8c1a"}},
	{"red", [4]string{"#ffb3b3", "#ff6666", "#cc1a1a", "#991111"}, [4]string{"#3d0000", "#8c0d0d", "#cc2222", "#e84444"}},
	{"teal", [4]string{"#a8f0e8", "#3dd9c8", "#1aab99", "#0d7a6d"}, [4]string{"#0d2e2b", "#0d6b60", "#1aab99", "#2dd4bf"}},
}

// HueIndex assigns a family to one of the hue ramps. It depends only on the
// family name, so a host keeps its colour regardless of which other hosts are queried.
func HueIndex(family string) int {
	h := fnv.New32a()
	h.Write([]byte(family))
	return int(h.Sum32() % uint32(len(hueRamps)))
}
