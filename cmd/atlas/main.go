package main

import "github.com/acencia/atlas/internal/cli"

func main() {
	cli.Execute()
}
