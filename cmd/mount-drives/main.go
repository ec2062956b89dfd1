package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:     "mount-drives",
		Usage:    "labels unmounted data partitions and adds them to the mount table",
		Flags:    globalFlags,
		Commands: CliCommands(),
		// Running without a command provisions
		Action: runAction,
	}
	if err := app.Run(os.Args); err != nil {
		// Exit errors were already handled by urfave/cli
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitAborted)
	}
}
