package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/xakep666/ps3dump-go/internal/dumper"
)

type detectCmd struct {
	InputDir string `help:"Mounted disc directory. Detected automatically when empty." arg:"" optional:"" type:"path"`
	Template string `help:"Output directory name template." default:"${name_template}"`
}

func (c *detectCmd) Run(g *globals) error {
	g.setupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := dumper.New(dumper.Options{InputDir: c.InputDir, NameTemplate: c.Template})
	defer engine.Close()

	identity, err := engine.DetectDisc(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Title:        %s\n", identity.Title)
	fmt.Printf("Product code: %s\n", identity.ProductCode)
	fmt.Printf("Version:      %s\n", identity.DiscVersion)
	fmt.Printf("App version:  %s\n", identity.AppVersion)
	fmt.Printf("Region:       %s\n", identity.Region())
	fmt.Printf("Output name:  %s\n", identity.OutputName(c.Template))

	return nil
}
