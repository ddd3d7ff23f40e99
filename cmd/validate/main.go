// SPDX-License-Identifier: MIT

// validate checks a streamjuke YAML configuration file without starting
// the daemon.
//
// Usage:
//
//	validate -f config.yaml
//	validate --file config.yaml
//
// Exit codes:
//   - 0: configuration is valid
//   - 1: configuration is invalid (parse or validation error)
//   - 2: usage error (missing required flag)
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/streamjuke/streamjuke/internal/config"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run resolves the file through the same loader the daemon uses, so a
// passing file is a file the daemon will accept, environment overrides
// included.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var file string
	var showVersion bool
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if showVersion {
		fmt.Fprintln(stdout, version)
		return 0
	}

	if file == "" {
		fmt.Fprintln(stderr, "error: --file is required")
		fmt.Fprintln(stderr, "")
		fmt.Fprintln(stderr, "usage:")
		fmt.Fprintln(stderr, "  validate -f config.yaml")
		fmt.Fprintln(stderr, "  validate --file config.yaml")
		return 2
	}

	cfg, err := config.Load(file)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error in %s:\n", file)
		fmt.Fprintf(stderr, "  %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "✓ %s is valid\n", file)
	fmt.Fprintf(stdout, "  store: %s, cache: %s, api: %s\n", cfg.StoreBackend, cfg.CacheBackend, cfg.APIAddr)
	return 0
}
