package main

import "github.com/aussiebroadwan/sessionkit/internal/sessionctl/cli"

func main() {
	cli.Execute()
}
