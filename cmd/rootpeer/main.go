package main

import (
	"os"

	"tribechat/cmd/rootpeer/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
