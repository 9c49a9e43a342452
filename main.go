package main

import "threetick/internal/cli"

func main() {
	cli.Execute()
}
