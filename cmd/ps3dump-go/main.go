package main

import (
	"fmt"
	"log/slog"
	"os"

	_ "github.com/KimMachineGun/automemlimit"
	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/xakep666/ps3dump-go/internal/dumper"
	"github.com/xakep666/ps3dump-go/internal/kongutil"
	"github.com/xakep666/ps3dump-go/pkg/kongini"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

type globals struct {
	Debug   bool `help:"Enable debug log messages."`
	JSONLog bool `help:"Output log messages in json format."`
}

func (g *globals) setupLogger() {
	level := slog.LevelInfo
	if g.Debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if g.JSONLog {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
			Level:   level,
			NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
		})
	}

	slog.SetDefault(slog.New(handler))
}

type app struct {
	globals

	Dump    dumpCmd    `cmd:"" help:"Dump and decrypt the inserted PS3 disc."`
	Detect  detectCmd  `cmd:"" help:"Identify the inserted PS3 disc."`
	Keys    keysCmd    `cmd:"" help:"List decryption keys available in the cache."`
	Decrypt decryptCmd `cmd:"" help:"Decrypt an encrypted image file with a key file."`

	Version kong.VersionFlag `help:"Show application version info."`
}

func main() {
	var app app
	ctx := kong.Parse(&app,
		kong.Name("ps3dump-go"),
		kong.Description("Verified decrypting dumper for PS3 Blu-ray game discs."),
		kong.Vars{
			"version":       fmt.Sprintf("%s (commit '%s' at '%s' build by '%s')", version, commit, date, builtBy),
			"name_template": dumper.DefaultNameTemplate,
		},
		kongutil.BinSizeMapper,
		kongutil.OutputFileMapper,
		kong.Configuration(kongini.Loader, "~/.config/ps3dump-go/config.ini", ".ps3dump-go.ini"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&app.globals))
}
