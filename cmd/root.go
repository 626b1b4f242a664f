package cmd

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
)

// Version is the release version, overridable at link time with
// -ldflags "-X cortex-router/cmd.Version=...".
var Version = "0.1.0"

const usage = `cortex-router is a multi-provider LLM gateway with routing, fan-out
comparison, cost tracking and NDJSON streaming.

Usage:
  cortex-router <command> [flags]

Commands:
  serve      Start the HTTP server
  version    Print version information

Flags:
  -h, --help  Show this help message`

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return printUsage()
	}

	switch args[0] {
	case "serve":
		return serve(ctx, args[1:])
	case "version", "--version":
		return printVersion()
	case "help", "-h", "--help":
		return printUsage()
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
}

func printUsage() error {
	fmt.Println(strings.TrimSpace(usage))
	return nil
}

func printVersion() error {
	fmt.Printf("cortex-router %s", Version)
	if info, ok := debug.ReadBuildInfo(); ok && info.GoVersion != "" {
		fmt.Printf(" (%s)", info.GoVersion)
	}
	fmt.Println()
	return nil
}
