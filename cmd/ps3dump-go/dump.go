package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/xakep666/ps3dump-go/internal/dumper"
)

type dumpCmd struct {
	Output   string `help:"Base directory for the dump." arg:"" type:"existingdir" default:"."`
	CacheDir string `help:"Directory with .ird archives and .dkey dumps." short:"k" type:"existingdir" default:"."`

	InputDir   string `help:"Mounted disc directory. Detected automatically when empty." type:"path"`
	Template   string `help:"Output directory name template." default:"${name_template}"`
	BufferSize int64  `help:"Size of buffer for data transfer." type:"binsize" default:"8m"`
	NoProgress bool   `help:"Disable the progress bar."`
}

func (c *dumpCmd) Run(g *globals) error {
	g.setupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := dumper.New(dumper.Options{
		InputDir:     c.InputDir,
		NameTemplate: c.Template,
		BufferSize:   c.BufferSize,
	})
	defer engine.Close()

	if _, err := engine.DetectDisc(ctx); err != nil {
		return fmt.Errorf("disc detection failed: %w", err)
	}

	if _, err := engine.FindKey(ctx, c.CacheDir); err != nil {
		return fmt.Errorf("key discovery failed: %w", err)
	}

	done := make(chan struct{})
	if !c.NoProgress {
		go renderProgress(engine, done)
	}

	report, err := engine.Dump(ctx, c.Output)
	close(done)
	if err != nil {
		if dumper.IsCancelled(err) {
			fmt.Fprintln(os.Stderr, "cancelled")
			return nil
		}
		return err
	}

	for _, broken := range report.BrokenFiles {
		fmt.Printf("broken: %s (%s)\n", broken.Path, broken.Reason)
	}
	fmt.Printf("Dumped to %s, validation: %s\n", report.OutputDir, report.Validation)

	return nil
}

// renderProgress polls engine progress snapshots into an mpb bar until
// the dump finishes.
func renderProgress(engine *dumper.Engine, done <-chan struct{}) {
	// wait until the controller published totals
	var total int64
	for {
		select {
		case <-done:
			return
		case <-time.After(100 * time.Millisecond):
		}

		if p := engine.Progress(); p.TotalSectors > 0 {
			total = int64(p.TotalSectors)
			break
		}
	}

	progress := mpb.New(mpb.WithWidth(64), mpb.WithRefreshRate(180*time.Millisecond))
	bar := progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name("dumping "),
			decor.CountersNoUnit("%d / %d sectors"),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			bar.SetTotal(total, true)
			progress.Wait()
			return
		case <-ticker.C:
			bar.SetCurrent(int64(engine.Progress().CurrentSector))
		}
	}
}
