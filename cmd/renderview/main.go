package main

import "github.com/bryanchriswhite/renderview/cmd/renderview/commands"

func main() {
	commands.Execute()
}
