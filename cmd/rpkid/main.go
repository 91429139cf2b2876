// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Command rpkid runs the daemon's scheduling core: an event loop driving
// periodic housekeeping jobs, until interrupted or terminated.
package main

import (
	"context"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := newApp(context.Background(), os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "rpkid: %s\n", err)
		os.Exit(1)
	}
}
