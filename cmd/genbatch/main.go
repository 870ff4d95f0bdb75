// File: cmd/genbatch/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"content-batch-pipeline/internal/cli"
)

// Set by -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cli.Version, cli.Commit = version, commit
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
