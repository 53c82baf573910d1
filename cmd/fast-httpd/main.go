package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/searchktools/fast-httpd/app"
	"github.com/searchktools/fast-httpd/config"
	"github.com/searchktools/fast-httpd/logger"
)

func main() {
	name := filepath.Base(os.Args[0])
	flags := pflag.NewFlagSet(name, pflag.ExitOnError)
	config.RegisterFlags(flags)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] [port]\n\n", name)
		flags.PrintDefaults()
	}
	flags.Parse(os.Args[1:])

	if flags.NArg() > 1 {
		flags.Usage()
		os.Exit(2)
	}
	// the port may be given positionally
	if flags.NArg() == 1 {
		if err := flags.Set("port", flags.Arg(0)); err != nil {
			fmt.Fprintf(os.Stderr, "invalid port %q: %v\n", flags.Arg(0), err)
			os.Exit(2)
		}
	}

	configPath, _ := flags.GetString("config")
	cfg, err := config.Load(configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flags.Usage()
		os.Exit(1)
	}

	closeLog, err := setupLogging(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	a, err := app.New(cfg)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	if err := a.Run(context.Background()); err != nil {
		logger.Error("Server failed: %v", err)
		closeLog()
		os.Exit(1)
	}
}

func setupLogging(cfg config.LoggingConfig) (func() error, error) {
	w, closer, err := logger.Open(cfg.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to open log output: %w", err)
	}
	logger.SetOutput(w)
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	return closer, nil
}
