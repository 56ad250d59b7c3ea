package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/bookbinder/internal/config"
	"git.home.luguber.info/inful/bookbinder/internal/daemon"
	"git.home.luguber.info/inful/bookbinder/internal/generate"
	"git.home.luguber.info/inful/bookbinder/internal/job"
	"git.home.luguber.info/inful/bookbinder/internal/model"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"bookbinder.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Serve struct {
	} `cmd:"" help:"Run the generation service (HTTP API, workers, watchers)"`

	Generate struct {
		Book     string `short:"b" required:"" help:"Book identifier"`
		Customer string `short:"u" required:"" help:"Customer identifier"`
		Year     int    `short:"y" required:"" help:"Reporting year"`
		Quarter  int    `short:"q" required:"" help:"Reporting quarter (1-4)"`
		Dataset  string `short:"d" help:"Checksum of a previously ingested dataset"`
		Output   string `short:"o" help:"Output file path" default:"book.pdf"`
	} `cmd:"" help:"Generate one book and write it to a file"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Write a default configuration file"`
}

func main() {
	ctx := kong.Parse(&CLI)

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if CLI.Verbose {
		cfg.Logging.Level = config.LogLevelDebug
	}
	config.SetupLogging(cfg.Logging)

	switch ctx.Command() {
	case "serve":
		if err := runServe(cfg); err != nil {
			slog.Error("Serve failed", "error", err)
			os.Exit(1)
		}
	case "generate":
		if err := runGenerate(cfg); err != nil {
			slog.Error("Generate failed", "error", err)
			os.Exit(1)
		}
	case "init":
		if err := runInit(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Unknown command", "command", ctx.Command())
		os.Exit(1)
	}
}

func runServe(cfg *config.Config) error {
	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		_ = d.Stop(ctx)
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Shutting down", "signal", sig.String())

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return d.Stop(shutdownCtx)
}

// runGenerate submits one job through the full pipeline and waits for it.
func runGenerate(cfg *config.Config) error {
	// The API server is not needed for a one-shot run.
	cfg.Server.Enabled = false
	cfg.Spool.Enabled = false
	cfg.Sweep.Enabled = false

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		_ = d.Stop(ctx)
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = d.Stop(stopCtx)
	}()

	svc := d.Service()
	j, err := svc.Submit(ctx, generate.SubmitRequest{
		BookID:     CLI.Generate.Book,
		CustomerID: CLI.Generate.Customer,
		Period: model.Period{
			Year:    CLI.Generate.Year,
			Quarter: CLI.Generate.Quarter,
		},
		DatasetChecksum: CLI.Generate.Dataset,
	})
	if err != nil {
		return err
	}

	st, err := waitForJob(ctx, svc, j.ID)
	if err != nil {
		return err
	}
	if st.State == job.StateError {
		return fmt.Errorf("generation failed (%s): %s", st.Error.Kind, st.Error.Message)
	}

	data, err := svc.GetOutput(ctx, j.ID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(CLI.Generate.Output, data, 0o600); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	slog.Info("Book generated", "output", CLI.Generate.Output, "bytes", len(data))
	return nil
}

func waitForJob(ctx context.Context, svc *generate.Service, jobID string) (*generate.Status, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := svc.GetStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if st.State.Terminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

const defaultConfigTemplate = `# bookbinder configuration
data_dir: ./data

catalog:
  path: ./data/catalog.db

storage:
  path: ./data/objects

queue:
  workers: 2
  max_size: 100
  job_timeout: 5m
  retry_backoff: linear
  retry_initial_delay: 1s
  retry_max_delay: 30s
  max_retries: 2

server:
  enabled: true
  addr: ":8850"

events:
  enabled: false
  nats_url: nats://localhost:4222
  subject: bookbinder.jobs

spool:
  enabled: false
  dir: ./data/spool

sweep:
  enabled: true
  interval: 1h
  retention: 720h

logging:
  level: info
  format: text
`

func runInit(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	slog.Info("Configuration written", "path", path)
	return nil
}
