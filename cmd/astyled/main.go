package main

import "github.com/Zereker/astyled/cmd/astyled/cmd"

func main() {
	cmd.Execute()
}
