package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/linguameet/linguameet/pkg/datastore"
	"github.com/linguameet/linguameet/pkg/logging"
	"github.com/linguameet/linguameet/pkg/server"
	"github.com/linguameet/linguameet/pkg/version"
)

func main() {
	cfg := server.DefaultConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP/WebSocket bind address")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path")
	flag.StringVar(&cfg.StaticDir, "static", cfg.StaticDir, "Directory of static client files to serve (empty to disable)")
	pendingTTL := flag.Int("pending-ttl", int(cfg.PendingCallTTL/time.Second), "Seconds an unanswered call request stays pending (0 = forever)")
	configFile := flag.String("config", "", "YAML config file (overrides flags)")
	showVersion := flag.Bool("version", false, "Print version and exit")

	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	cfg.PendingCallTTL = time.Duration(*pendingTTL) * time.Second

	if *configFile != "" {
		var err error
		cfg, err = server.LoadConfigFile(*configFile, cfg)
		if err != nil {
			slog.Error("load config", "err", err)
			os.Exit(1)
		}
	} else if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	st, err := datastore.NewSQL(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}

	srv := server.New(cfg, server.Dependencies{Store: st})
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
