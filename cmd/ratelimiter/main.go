// Command ratelimiter runs the rate limiting rule engine and traffic simulator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"ratelimiter/internal/ratelimit/app"
	"ratelimiter/internal/ratelimit/config"
)

// CLI is the command line interface.
type CLI struct {
	Serve       ServeCmd       `cmd:"" default:"1" help:"Start the HTTP and gRPC servers."`
	PrintConfig PrintConfigCmd `cmd:"" name:"print-config" help:"Print the effective configuration."`
	Validate    ValidateCmd    `cmd:"" help:"Validate the configuration."`
	Version     VersionCmd     `cmd:"" help:"Show version information."`

	EnvFile string `name:"env-file" help:"Dotenv file with environment defaults." type:"path"`
	config.FlagOverrides
}

func (cli *CLI) load() (*config.Config, error) {
	return config.LoadConfig(config.LoadOptions{
		EnvFile: cli.EnvFile,
		Flags:   cli.FlagOverrides,
	})
}

// ServeCmd starts the servers and blocks until interrupted.
type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, cfg, app.Dependencies{})
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	served := make(chan error, 1)
	go func() { served <- application.Wait() }()
	select {
	case <-ctx.Done():
	case err := <-served:
		if err != nil {
			_ = application.Shutdown(context.Background())
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return application.Shutdown(shutdownCtx)
}

// PrintConfigCmd prints the merged configuration.
type PrintConfigCmd struct{}

func (c *PrintConfigCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	return config.PrintConfig(os.Stdout, cfg)
}

// ValidateCmd loads and validates the configuration.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if _, err := cli.load(); err != nil {
		return err
	}
	fmt.Println("configuration is valid")
	return nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("ratelimiter version %s\n", version)
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("ratelimiter"),
		kong.Description("Rate limiting rule engine and traffic simulator."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
