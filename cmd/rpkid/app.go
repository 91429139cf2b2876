// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joeycumines/go-rpkid/cron"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/urfave/cli"
)

// config is the daemon configuration, populated from flags, or their
// environment variable fallbacks.
type config struct {
	logLevel    string
	cronPeriod  time.Duration
	jobTimeout  time.Duration
	errbackRate int
	once        bool
}

func newApp(ctx context.Context, w io.Writer) *cli.App {
	var cfg config
	app := cli.NewApp()
	app.Name = "rpkid"
	app.HelpName = "rpkid"
	app.Usage = "RPKI certificate authority daemon (scheduling core)"
	app.Version = version
	app.Writer = w
	app.ErrWriter = w
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "log-level",
			Usage:       "minimum log level (emerg, alert, crit, err, warning, notice, info, debug, trace, disabled)",
			Value:       logiface.LevelInformational.String(),
			EnvVar:      "RPKID_LOG_LEVEL",
			Destination: &cfg.logLevel,
		},
		cli.DurationFlag{
			Name:        "cron-period",
			Usage:       "delay between housekeeping cycles",
			Value:       cron.DefaultPeriod,
			EnvVar:      "RPKID_CRON_PERIOD",
			Destination: &cfg.cronPeriod,
		},
		cli.DurationFlag{
			Name:        "job-timeout",
			Usage:       "how long a single housekeeping job may run",
			Value:       cron.DefaultJobTimeout,
			EnvVar:      "RPKID_JOB_TIMEOUT",
			Destination: &cfg.jobTimeout,
		},
		cli.IntFlag{
			Name:        "errback-rate",
			Usage:       "maximum unhandled timer errors logged per minute, per timer (0 for unlimited)",
			Value:       10,
			EnvVar:      "RPKID_ERRBACK_RATE",
			Destination: &cfg.errbackRate,
		},
		cli.BoolFlag{
			Name:        "once",
			Usage:       "run a single housekeeping cycle, then exit",
			EnvVar:      "RPKID_ONCE",
			Destination: &cfg.once,
		},
	}
	app.Action = func(c *cli.Context) error {
		if c.NArg() != 0 {
			return fmt.Errorf("unexpected arguments: %s", strings.Join(c.Args(), " "))
		}
		if cfg.errbackRate < 0 {
			return fmt.Errorf("invalid errback rate: %d", cfg.errbackRate)
		}
		level, err := parseLevel(cfg.logLevel)
		if err != nil {
			return err
		}
		logger := newLogger(w, level)
		d, err := newDaemon(logger, cfg)
		if err != nil {
			return err
		}
		defer d.close()
		if cfg.once {
			return d.runOnce(ctx)
		}
		return d.run(ctx)
	}
	return app
}

func newLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

// parseLevel accepts the short syslog keywords, and a few common aliases.
func parseLevel(s string) (logiface.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "error":
		return logiface.LevelError, nil
	case "warn":
		return logiface.LevelWarning, nil
	case "information", "informational":
		return logiface.LevelInformational, nil
	}
	for level := logiface.LevelDisabled; level <= logiface.LevelTrace; level++ {
		if level.String() == s {
			return level, nil
		}
	}
	return 0, fmt.Errorf("invalid log level: %q", s)
}
