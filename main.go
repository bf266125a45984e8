package main

import (
	"fmt"
	"os"

	"github.com/gobaselines/ppotrain/commands"
)

// main entry point for training and evaluation runs
func main() {
	rootCommand := commands.GetRootCommand()
	if err := rootCommand.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
