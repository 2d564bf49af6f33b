package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	// Timezones must resolve on minimal hosts without /usr/share/zoneinfo.
	_ "time/tzdata"

	"confsched/internal/clock"
	"confsched/internal/config"
	"confsched/internal/favorites"
	"confsched/internal/indexer"
	appLog "confsched/internal/log"
	"confsched/internal/schedule"
	"confsched/internal/tracks"
	"confsched/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values; they override the config file.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags, os.Stdout); err != nil {
		appLog.Error("confsched failed", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (flagConfig, error) {
	var cfg flagConfig

	fs := pflag.NewFlagSet("confsched", pflag.ContinueOnError)
	fs.StringVarP(&cfg.configPath, "config", "c", "/etc/confsched/config.yaml", "Path to config file")
	fs.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	fs.BoolVar(&cfg.once, "once", false, "Build the tracks index once, print it as JSON and exit")
	fs.BoolVar(&cfg.debug, "debug", false, "Enable debug logging (overrides log_level)")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return cfg, nil
}

func run(ctx context.Context, flags flagConfig, stdout io.Writer) error {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", flags.configPath, err)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.debug {
		conf.LogLevel = "debug"
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.Info("confsched starting", "version", version)

	loc, err := conf.Location()
	if err != nil {
		return err
	}

	debugEnv, err := config.LoadDebugEnv()
	if err != nil {
		return err
	}
	clk := clock.FromOverride(debugEnv.SoonDate)

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"locale", conf.Locale,
		"refresh", conf.RefreshCron,
		"soon_window", conf.SoonWindow,
		"ics_count", len(conf.Schedule.ICS),
		"file_count", len(conf.Schedule.Files),
		"watch", conf.Schedule.Watch,
		"once", flags.once,
		"debug_env", debugEnv.Active(),
	)

	provider, err := schedule.FromConfig(conf, loc, clk)
	if err != nil {
		return err
	}
	idx := indexer.New(provider, clk,
		tracks.WithLocation(loc),
		tracks.WithLocale(conf.LocaleTag()),
	)

	if flags.once {
		return runOnce(ctx, idx, stdout)
	}

	favs, err := favorites.Open(conf.FavoritesPath)
	if err != nil {
		return err
	}
	if err := favs.ApplyDebugEnv(debugEnv); err != nil {
		return err
	}

	// A failed first build is not fatal: the API answers 503 until a later
	// refresh succeeds.
	if _, err := indexer.Await(ctx, idx.Rebuild(ctx)); err != nil && ctx.Err() != nil {
		return nil
	}

	if _, err := indexer.StartRefresh(ctx, idx, conf.RefreshCron); err != nil {
		return err
	}
	if conf.Schedule.Watch && len(conf.Schedule.Files) > 0 {
		err := schedule.Watch(ctx, conf.Schedule.Files, 0, func() {
			idx.Rebuild(ctx)
		})
		if err != nil {
			return err
		}
		appLog.Info("watching schedule files", "files", conf.Schedule.Files)
	}

	srv := web.NewServer(ctx, conf, idx, favs, clk)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	appLog.Info("confsched exiting")
	return nil
}

// runOnce builds the index and writes it to stdout as indented JSON.
func runOnce(ctx context.Context, idx *indexer.Indexer, stdout io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	snap, err := indexer.Await(ctx, idx.Rebuild(ctx))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap.Index)
}
