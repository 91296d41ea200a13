package main

import "github.com/roomcast/roomcast/internal/cli"

func main() {
	cli.Execute()
}
