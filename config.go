// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/beevik/buggery/trace"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type config struct {
	Log struct {
		Level   string `yaml:"level"`
		Console bool   `yaml:"console"`
	} `yaml:"log"`

	Session struct {
		WaitTimeout time.Duration `yaml:"wait_timeout"`
		SymbolPath  string        `yaml:"symbol_path"`
	} `yaml:"session"`

	Engine struct {
		PointerWidth int `yaml:"pointer_width"`
	} `yaml:"engine"`

	Trace struct {
		Store string `yaml:"store"`
		Dir   string `yaml:"dir"`
	} `yaml:"trace"`
}

func defaultConfig() *config {
	cfg := &config{}
	cfg.Log.Level = "warn"
	cfg.Log.Console = true
	cfg.Session.WaitTimeout = time.Second
	cfg.Engine.PointerWidth = 8
	cfg.Trace.Store = "memory"
	return cfg
}

// loadConfig reads a YAML configuration file over the defaults. An empty
// path returns the defaults.
func loadConfig(path string) (*config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := cfg.parse(data); err != nil {
		return nil, errors.Wrapf(err, "config '%s'", path)
	}
	return cfg, nil
}

func (cfg *config) parse(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return cfg.validate()
}

func (cfg *config) validate() error {
	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		return errors.Errorf("invalid log level '%s'", cfg.Log.Level)
	}
	if cfg.Session.WaitTimeout < 0 {
		return errors.Errorf("negative wait timeout %v", cfg.Session.WaitTimeout)
	}
	if w := cfg.Engine.PointerWidth; w != 4 && w != 8 {
		return errors.Errorf("pointer width must be 4 or 8, got %d", w)
	}
	switch cfg.Trace.Store {
	case "memory":
	case "badger":
		if cfg.Trace.Dir == "" {
			return errors.New("badger trace store requires trace.dir")
		}
	default:
		return errors.Errorf("unknown trace store '%s'", cfg.Trace.Store)
	}
	return nil
}

func (cfg *config) logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.WarnLevel
	}
	if cfg.Log.Console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// traceStore returns the function the console uses to open its trace
// store, or nil for the console's in-memory default.
func (cfg *config) traceStore() func() (trace.Storage, error) {
	if cfg.Trace.Store != "badger" {
		return nil
	}
	dir := cfg.Trace.Dir
	return func() (trace.Storage, error) {
		s, err := trace.NewBadgerStorage(dir)
		if err != nil {
			return nil, err
		}
		return trace.KeyPrefixStorage(s, "events"), nil
	}
}
