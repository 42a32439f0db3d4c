// enrich-event runs a single track event through the enrichment pipeline.
//
// The event is read from --file, or from stdin when no file is given.
// Configuration comes from the same environment variables as the service,
// optionally loaded from --env-file. With --dry-run the enriched event is
// printed to stdout instead of being sent to the collection endpoint.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"track-enricher/internal/app"
	"track-enricher/internal/common/errors"
	"track-enricher/internal/common/logging"
	"track-enricher/internal/config"
	"track-enricher/internal/forwarder"
	"track-enricher/internal/models"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode separates bad input (2) from enrichment failures (1)
func exitCode(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeValidation, errors.ErrTypeConfig:
		return 2
	default:
		return 1
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var (
		filePath string
		envFile  string
		logLevel string
		dryRun   bool
	)

	flagSet := pflag.NewFlagSet("enrich-event", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&filePath, "file", "f", "", "path to the event JSON (default: stdin)")
	flagSet.StringVar(&envFile, "env-file", ".env", "environment file to load if present")
	flagSet.StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")
	flagSet.BoolVar(&dryRun, "dry-run", false, "print the enriched event instead of forwarding it")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(stderr, flagSet)
			return nil
		}
		return errors.ValidationError(err.Error())
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return errors.ValidationError(fmt.Sprintf("unexpected argument: %s", rest[0]))
	}

	_ = godotenv.Load(envFile)

	cfg := config.Load()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := initLogger(cfg, stderr); err != nil {
		return err
	}
	defer logging.MustSync()

	if dryRun && cfg.CollectionAPIKey == "" {
		cfg.CollectionAPIKey = "dry-run"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	evt, err := readEvent(filePath, stdin)
	if err != nil {
		return err
	}

	var opts []app.Option
	if dryRun {
		opts = append(opts, app.WithForwarder(forwarder.NewWriterForwarder(stdout)))
	}
	a, err := app.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer a.Cleanup()

	result, err := a.Pipeline.Process(ctx, evt, cfg.Settings())
	if err != nil {
		return err
	}

	if !dryRun {
		fmt.Fprintf(stderr, "forwarded %s in %s\n", evt.MessageID, result.TotalDuration)
	}
	return nil
}

// initLogger keeps stdout free for --dry-run output unless LOG_FILE is set.
func initLogger(cfg *config.Config, stderr io.Writer) error {
	if cfg.LogFile != "" {
		return logging.InitGlobalLogger(cfg.LogLevel, cfg.LogFile)
	}
	logger, err := logging.NewZapLogger(logging.LogConfig{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Output: stderr,
		Name:   "enrich-event",
	})
	if err != nil {
		return err
	}
	logging.SetGlobalLogger(logger)
	return nil
}

func readEvent(path string, stdin io.Reader) (*models.Event, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("cannot read event: %v", err))
	}
	return models.ParseEvent(data)
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `enrich-event: enrich one track event and forward it.

Reads the event from --file or stdin. Adds profile traits, converts
amounts to the reporting currency and adds catalog cost and margin.

Usage:
  enrich-event [flags] < event.json

Flags:
`)
	flagSet.PrintDefaults()
}
