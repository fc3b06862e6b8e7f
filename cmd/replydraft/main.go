package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/replydraft/internal/cli"
)

var version = "dev"

func main() {
	rootCmd := cli.BuildCLI()
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
