package main

import "github.com/naka-gawa/gerrit-stats/cmd"

func main() {
	cmd.Execute()
}
