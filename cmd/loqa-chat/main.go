// Command loqa-chat is the console client for the loqa dialog agent.
//
// Usage:
//
//	loqa-chat [flags]            interactive conversation (same as "chat")
//	loqa-chat say <text...>      send one text query and print the reply
//	loqa-chat version
//
// In chat mode an empty line toggles listening and any other line is sent
// as a text query. "/history" prints the recorded events of the session and
// "/quit" exits.
package main

import (
	"fmt"
	"os"

	"github.com/loqalabs/loqa-dialog/cmd/loqa-chat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
