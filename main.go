package main

import "github.com/samsaffron/claude-wrapper/cmd"

func main() {
	cmd.Execute()
}
