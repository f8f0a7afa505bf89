package main

import (
	"flag"
	"fmt"
	"os"
)

const usage = "usage: padctl <daemon [-config path]|status|press <a|w|s|d>|release <a|w|s|d>|connect|disconnect|fail>"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "daemon":
		fs := flag.NewFlagSet("daemon", flag.ExitOnError)
		path := fs.String("config", configPath(), "path to config.yaml")
		fs.Parse(os.Args[2:])
		err = runDaemon(*path)
	case "status":
		err = runStatus()
	case "press", "release":
		if len(os.Args) < 3 {
			fmt.Fprintf(os.Stderr, "usage: padctl %s <a|w|s|d>\n", cmd)
			os.Exit(1)
		}
		err = runButton(cmd, os.Args[2])
	case "connect", "disconnect", "fail":
		err = runCommand(IPCRequest{Command: cmd})
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n%s\n", cmd, usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
