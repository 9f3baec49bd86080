package main

import (
	"os"

	"github.com/Iron-Ham/taskmaster/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
