// Command toolloop chats with an OpenAI-compatible model that can call local tools.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
