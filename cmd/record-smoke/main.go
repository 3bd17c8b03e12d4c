// Package main provides a CLI that records a synthetic session through the
// full recording pipeline and verifies it plays back to an identical state.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	smokecmd "github.com/mfeld/thornvale/internal/cmd/recordsmoke"
)

func main() {
	cfg, err := smokecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[RECORD-SMOKE] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := smokecmd.Run(ctx, cfg, os.Stdout); err != nil {
		log.Fatalf("record smoke failed: %v", err)
	}
}
