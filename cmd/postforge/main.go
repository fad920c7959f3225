package main

import "github.com/vietddude/postforge/internal/cli"

func main() {
	cli.Execute()
}
