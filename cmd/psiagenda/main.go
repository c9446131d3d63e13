package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"psiagenda/internal/backup"
	"psiagenda/internal/config"
	appLog "psiagenda/internal/log"
	"psiagenda/internal/query"
	"psiagenda/internal/schedule"
	"psiagenda/internal/store"
	"psiagenda/internal/telemetry"
	"psiagenda/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := runHashPassword(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	flags := parseFlags()
	if err := run(flags); err != nil {
		appLog.Error("psiagenda stopped with error", err)
		os.Exit(1)
	}
}

func run(flags flagConfig) error {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", flags.configPath, err)
	}
	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("psiagenda starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"store", conf.Store.Backend,
		"window_months", conf.Series.WindowMonths,
		"stale_after_hours", conf.Backup.StaleAfterHours,
		"telemetry", conf.Telemetry.Enabled,
		"basic_auth", conf.BasicAuth != nil,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, conf.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			appLog.Error("tracer shutdown failed", err)
		}
	}()

	st, closeStore, err := store.Open(ctx, conf.Store)
	if err != nil {
		return fmt.Errorf("open %s store: %w", conf.Store.Backend, err)
	}
	defer closeStore()

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Error("invalid timezone, using local", err, "timezone", conf.Timezone)
		loc = time.Local
	}

	agenda := schedule.NewManager(st, schedule.Options{
		Keys:         store.KeysWithPrefix(conf.Store.KeyPrefix),
		WindowMonths: conf.Series.WindowMonths,
		StaleAfter:   time.Duration(conf.Backup.StaleAfterHours) * time.Hour,
	})

	watcher, err := backup.NewWatcher(agenda, conf.Backup.CheckCron, loc)
	if err != nil {
		return fmt.Errorf("backup check schedule %q: %w", conf.Backup.CheckCron, err)
	}
	watcher.Start(ctx)
	defer watcher.Stop()

	answerer := query.NewFromConfig(conf, loc)

	if err := web.StartServer(ctx, conf, agenda, answerer); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	appLog.Info("psiagenda exiting")
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./psiagenda.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  psiagenda [-config path] [-listen addr]\n")
		fmt.Fprintf(os.Stderr, "  psiagenda hash-password [-config path] [-write]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	return cfg
}
