package main

import "github.com/agentic-research/photoman/cmd"

func main() {
	cmd.Execute()
}
