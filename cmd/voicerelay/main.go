package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/roelfdiedericks/voicerelay/internal/app"
	"github.com/roelfdiedericks/voicerelay/internal/config"
	. "github.com/roelfdiedericks/voicerelay/internal/logging"
)

var version = "0.1.0"

// ServeCmd runs the webhook server.
type ServeCmd struct {
	config.Settings `embed:""`
}

func (c *ServeCmd) Run(ctx context.Context) error {
	Init(ConfigFor(c.Debug, c.LogFormat))
	return app.Serve(ctx, c.Settings, version)
}

// ProvisionCmd downloads and unpacks the offline model, then prints its path.
type ProvisionCmd struct {
	config.Settings `embed:""`
}

func (c *ProvisionCmd) Run(ctx context.Context) error {
	Init(ConfigFor(c.Debug, c.LogFormat))
	path, err := app.ProvisionModel(ctx, c.Settings)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

// TranscribeCmd runs the configured provider on a local file.
type TranscribeCmd struct {
	config.Settings `embed:""`

	File string `arg:"" type:"existingfile" help:"Ogg/Opus audio file."`
}

func (c *TranscribeCmd) Run(ctx context.Context) error {
	Init(ConfigFor(c.Debug, c.LogFormat))
	text, err := app.TranscribeFile(ctx, c.Settings, c.File)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("voicerelay %s\n", version)
	return nil
}

// CLI is the command tree.
type CLI struct {
	Serve      ServeCmd      `cmd:"" default:"withargs" help:"Run the Telegram webhook server (default)."`
	Provision  ProvisionCmd  `cmd:"" help:"Download the offline model if missing and print its path."`
	Transcribe TranscribeCmd `cmd:"" help:"Transcribe a local voice file with the configured provider."`
	Version    VersionCmd    `cmd:"" help:"Print version."`
}

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("voicerelay"),
		kong.Description("Telegram voice message to text relay."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	if err := kctx.Run(); err != nil {
		L_error("voicerelay failed", "error", err)
		stop()
		os.Exit(1)
	}
}
