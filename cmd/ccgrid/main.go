package main

import "github.com/O6lvl4/ccgrid-sub001/internal/cli"

func main() {
	cli.Execute()
}
