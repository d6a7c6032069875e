package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/xakep666/ps3dump-go/internal/keystore"
)

type keysCmd struct {
	CacheDir string `help:"Directory with .ird archives and .dkey dumps." arg:"" type:"existingdir" default:"."`
}

func (c *keysCmd) Run(g *globals) error {
	g.setupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	index := keystore.NewIndex()
	for _, p := range keystore.Providers() {
		records, err := p.Enumerate(ctx, c.CacheDir, "")
		if err != nil {
			return fmt.Errorf("%s provider failed: %w", p.Kind(), err)
		}

		index.Add(records...)
	}

	for _, id := range index.KeyIDs() {
		fmt.Printf("%s\n", id)
		for _, rec := range index.Group(id) {
			version := rec.GameVersion
			if version == "" {
				version = "-"
			}
			fmt.Printf("  %-6s %-8s %s\n", rec.Kind, version, rec.SourcePath)
		}
	}

	fmt.Printf("%d distinct keys\n", index.Len())

	return nil
}
