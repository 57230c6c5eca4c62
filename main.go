package main

import "github.com/stine-notifier/stine/cmd"

func main() {
	cmd.Execute()
}
