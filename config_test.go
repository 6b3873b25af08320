// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "buggery.yaml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, time.Second, cfg.Session.WaitTimeout)
	assert.Equal(t, 8, cfg.Engine.PointerWidth)
	assert.Equal(t, "memory", cfg.Trace.Store)
	assert.Nil(t, cfg.traceStore())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
log:
  level: debug
  console: false
session:
  wait_timeout: 250ms
  symbol_path: srv*c:\symbols
engine:
  pointer_width: 4
trace:
  store: badger
  dir: `+dir+`
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.Console)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.WaitTimeout)
	assert.Equal(t, `srv*c:\symbols`, cfg.Session.SymbolPath)
	assert.Equal(t, 4, cfg.Engine.PointerWidth)

	open := cfg.traceStore()
	require.NotNil(t, open)
	store, err := open()
	require.NoError(t, err)
	require.NoError(t, store.Save("k", []byte("v")))
	keys, err := store.ListKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)
	require.NoError(t, store.Close())
}

func TestPartialConfigKeepsDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "engine:\n  pointer_width: 4\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Engine.PointerWidth)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, time.Second, cfg.Session.WaitTimeout)

	cfg, err = loadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
}

func TestInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"level":   "log:\n  level: loud\n",
		"width":   "engine:\n  pointer_width: 2\n",
		"store":   "trace:\n  store: s3\n",
		"dir":     "trace:\n  store: badger\n",
		"timeout": "session:\n  wait_timeout: -1s\n",
		"unknown": "engine:\n  cores: 4\n",
		"syntax":  "log: [\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, text))
			assert.Error(t, err)
		})
	}

	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLogger(t *testing.T) {
	cfg := defaultConfig()
	cfg.Log.Console = false
	cfg.Log.Level = "info"

	var buf bytes.Buffer
	log := cfg.logger(&buf)
	log.Debug().Msg("hidden")
	log.Info().Str("component", "test").Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"component":"test"`)
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
}
