package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/kernald/kernald/internal/config"
	"github.com/kernald/kernald/internal/httpapi"
	"github.com/kernald/kernald/internal/logging"
	"github.com/kernald/kernald/internal/server"
)

var version = "dev"

func main() {
	logging.Setup()

	fs := flag.NewFlagSet("kerneld", flag.ExitOnError)
	addr := fs.String("addr", "", "listen address (overrides config file/env)")
	dataDir := fs.String("data-dir", "", "data directory (overrides config file/env)")
	configFile := fs.String("config", "", "path to a YAML config file")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(version)
		return
	}
	if *verbose {
		logging.SetLevel(slog.LevelDebug)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.BindAddr = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
		cfg.DBPath = filepath.Join(cfg.DataDir, "kernald.db")
	}

	httpapi.Version = version
	logging.PrintBanner(version, cfg.BindAddr)

	srv, err := server.New(cfg)
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}

	logging.PrintListening(cfg.BindAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
