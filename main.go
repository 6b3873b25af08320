// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/beevik/buggery/console"
	"github.com/beevik/buggery/dbg"
	"github.com/beevik/buggery/sim"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	logLevel   string
	spawn      string
	attach     string
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "buggery [script ...]",
		Short: "Script a debugging session",
		Long: "Script a debugging session.\n" +
			"\n" +
			"Each script file is a list of console commands run in order. When the\n" +
			"scripts finish, commands are read interactively until quit or end of input.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level (overrides the configuration)")
	cmd.Flags().StringVar(&opts.spawn, "spawn", "", "command line of a process to start")
	cmd.Flags().StringVar(&opts.attach, "attach", "", "id of a process to attach to")
	return cmd
}

func run(opts options, scripts []string) (err error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
		if err := cfg.validate(); err != nil {
			return err
		}
	}
	log := cfg.logger(os.Stderr)

	engine := sim.New(sim.Config{
		PointerWidth: cfg.Engine.PointerWidth,
		Logger:       log.With().Str("component", "engine").Logger(),
	})
	session, err := dbg.NewSession(engine, dbg.Config{
		Logger:      log,
		WaitTimeout: cfg.Session.WaitTimeout,
		SymbolPath:  cfg.Session.SymbolPath,
	})
	if err != nil {
		return err
	}

	c, err := console.New(session, console.Config{
		Logger:     log,
		TraceStore: cfg.traceStore(),
	})
	if err != nil {
		session.Close()
		return err
	}
	defer func() {
		var result *multierror.Error
		result = multierror.Append(result, err, c.Close(), session.Close())
		err = result.ErrorOrNil()
	}()

	if err := startTarget(session, opts); err != nil {
		return err
	}

	// Run commands contained in command-line files.
	for _, filename := range scripts {
		err := runScript(c, filename)
		if errors.Is(err, console.ErrQuit) {
			return nil
		}
		if err != nil {
			return err
		}
	}

	// Break on Ctrl-C.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)
	go handleInterrupt(c, sig)

	// Run commands interactively.
	err = c.RunTerminal(os.Stdin, os.Stdout)
	if errors.Is(err, console.ErrQuit) {
		err = nil
	}
	return err
}

func startTarget(s *dbg.Session, opts options) error {
	switch {
	case opts.spawn != "" && opts.attach != "":
		return errors.New("--spawn and --attach are mutually exclusive")
	case opts.spawn != "":
		return s.Spawn(opts.spawn, dbg.SpawnOptions{})
	case opts.attach != "":
		pid, err := strconv.ParseUint(opts.attach, 0, 32)
		if err != nil {
			return errors.Errorf("invalid process id '%s'", opts.attach)
		}
		return s.Attach(uint32(pid), dbg.AttachDefault)
	}
	return nil
}

func runScript(c *console.Console, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return c.RunCommands(file, os.Stdout, false)
}

func handleInterrupt(c *console.Console, sig chan os.Signal) {
	for range sig {
		c.Break()
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
