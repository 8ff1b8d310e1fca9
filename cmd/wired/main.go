package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/wirego/internal/daemon"
	"github.com/matheus3301/wirego/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.wire/config.toml)")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	quiet := flag.Bool("quiet", false, "hide fx dependency injection logs")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fail(err)
	}

	cfg, err := daemon.LoadConfig(sessionName, *configFlag)
	if err != nil {
		fail(fmt.Errorf("load config: %w", err))
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	opts := []fx.Option{daemon.Module(daemon.Params{SessionName: sessionName, Config: cfg})}
	if *quiet {
		opts = append(opts, fx.NopLogger)
	}
	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		// Most often another daemon already holds the session lock.
		fail(fmt.Errorf("start session %q: %w", sessionName, err))
	}
	app.Run()
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "wired: %v\n", err)
	os.Exit(1)
}
