package main

import "kbrag/internal/cli"

func main() {
	cli.Execute()
}
