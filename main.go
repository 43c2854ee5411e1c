package main

import "github.com/zriyansh/customgpt-bots/cmd"

func main() {
	cmd.Execute()
}
