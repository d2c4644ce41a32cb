package main

import "gapwatch/internal/cli"

func main() {
	cli.Execute()
}
