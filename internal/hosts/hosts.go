// Package hosts resolves short Gerrit host aliases to their base URLs.
package hosts

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/naka-gawa/gerrit-stats/internal/domain"
)

// known maps short aliases to the canonical base URL of well-known public Gerrit instances.
var known = map[string]string{
	"chromium":    "https://chromium-review.googlesource.com",
	"android":     "https://android-review.googlesource.com",
	"go":          "https://go-review.googlesource.com",
	"fuchsia":     "https://fuchsia-review.googlesource.com",
	"skia":        "https://skia-review.googlesource.com",
	"gerrit":      "https://gerrit-review.googlesource.com",
	"webrtc":      "https://webrtc-review.googlesource.com",
	"wikimedia":   "https://gerrit.wikimedia.org",
	"qt":          "https://codereview.qt-project.org",
	"libreoffice": "https://gerrit.libreoffice.org",
	"onap":        "https://gerrit.onap.org",
}

// Alias is a known host alias and its base URL.
type Alias struct {
	Name    string
	BaseURL string
}

// Known returns the alias table sorted by alias.
func Known() []Alias {
	out := make([]Alias, 0, len(known))
	for name, u := range known {
		out = append(out, Alias{Name: name, BaseURL: u})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve maps a single alias or URL to a HostSpec.
// Inputs containing "://" are taken as explicit URLs; the alias of a URL is the
// known short name when it matches the table, otherwise its host[:port]
// followed by any path, so two Gerrits mounted under one host stay apart.
func Resolve(token string) (domain.HostSpec, error) {
	token = strings.TrimSpace(token)

	if strings.Contains(token, "://") {
		u, err := url.Parse(token)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return domain.HostSpec{}, fmt.Errorf("%w: %q is not a valid http(s) URL", domain.ErrUnknownHostAlias, token)
		}
		base := strings.TrimRight(token, "/")
		return domain.HostSpec{Alias: aliasFor(base, u.Host+strings.TrimRight(u.Path, "/")), BaseURL: base}, nil
	}

	base, ok := known[token]
	if !ok {
		names := make([]string, 0, len(known))
		for _, a := range Known() {
			names = append(names, a.Name)
		}
		return domain.HostSpec{}, fmt.Errorf("%w: %q; pass a full URL or one of: %s", domain.ErrUnknownHostAlias, token, strings.Join(names, ", "))
	}
	return domain.HostSpec{Alias: token, BaseURL: base}, nil
}

// Expand resolves every comma-separated token in specs, keeping first-seen
// order and dropping entries whose URL was already resolved.
func Expand(specs []string) ([]domain.HostSpec, error) {
	seen := make(map[string]bool)
	var out []domain.HostSpec
	for _, spec := range specs {
		for _, token := range strings.Split(spec, ",") {
			if strings.TrimSpace(token) == "" {
				continue
			}
			h, err := Resolve(token)
			if err != nil {
				return nil, err
			}
			if seen[h.BaseURL] {
				continue
			}
			seen[h.BaseURL] = true
			out = append(out, h)
		}
	}
	return out, nil
}

func aliasFor(base, fallback string) string {
	for name, u := range known {
		if u == base {
			return name
		}
	}
	return fallback
}
