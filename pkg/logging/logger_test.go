// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLevel_String(t *testing.T) {
	cases := map[Level]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
		Level(99):  "UNKNOWN",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"DEBUG":   LevelDebug,
		" info ":  LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_DefaultConfig(t *testing.T) {
	logger := New(Config{})
	defer logger.Close()
	if logger.Slog() == nil {
		t.Fatal("New returned logger with nil slog")
	}
}

func TestNew_WithLogDir(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelDebug,
		LogDir:  dir,
		Service: "dataset",
		Quiet:   true,
	})
	logger.Info("version created", "version", "v1.0.0")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one log file, got %v (%v)", entries, err)
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "dataset_") || !strings.HasSuffix(name, ".log") {
		t.Errorf("unexpected log file name %q", name)
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("file log is not JSON: %v", err)
	}
	if rec["msg"] != "version created" || rec["service"] != "dataset" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNew_LogDirWithoutService(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Quiet: true})
	logger.Info("hello")
	logger.Close()

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "aleutian_") {
		t.Errorf("expected aleutian_ fallback file name, got %v", entries)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelWarn, LogDir: dir, Service: "dataset", Quiet: true})
	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept")
	logger.Close()

	entries, _ := os.ReadDir(dir)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(data), "dropped") {
		t.Error("sub-threshold messages reached the file")
	}
	if !strings.Contains(string(data), "kept") {
		t.Error("warn message missing from file")
	}
}

func TestLogger_With(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Exporter: exporter, Quiet: true})
	child := logger.With("dataset", "docs")
	if child == logger {
		t.Fatal("With must return a new logger")
	}
	child.Info("tagged")
	logger.Close()
}

func TestLogger_Exporter(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Exporter: exporter, Quiet: true, Service: "dataset"})
	logger.Info("shipped", "version", "v1.0.0")

	// Export is asynchronous.
	deadline := time.Now().Add(2 * time.Second)
	for len(exporter.Entries()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	logger.Close()

	entries := exporter.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 exported entry, got %d", len(entries))
	}
	if entries[0].Message != "shipped" || entries[0].Service != "dataset" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
	if entries[0].Attrs["version"] != "v1.0.0" {
		t.Errorf("attrs not carried: %v", entries[0].Attrs)
	}
}

type failingExporter struct{ NopExporter }

func (e *failingExporter) Close() error { return errors.New("close failed") }

func TestLogger_Close_ExporterError(t *testing.T) {
	logger := New(Config{Exporter: &failingExporter{}, Quiet: true})
	if err := logger.Close(); err == nil {
		t.Error("expected exporter close error to propagate")
	}
}

func TestLogger_ConcurrentUse(t *testing.T) {
	logger := New(Config{Quiet: true, Exporter: NewBufferedExporter()})
	defer logger.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				logger.Info("concurrent", "goroutine", n, "iter", j)
			}
		}(i)
	}
	wg.Wait()
}

type captureHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, r)
	return nil
}
func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func TestMultiHandler(t *testing.T) {
	var mu sync.Mutex
	var records []slog.Record
	capture := &captureHandler{mu: &mu, records: &records}

	h := &multiHandler{handlers: []slog.Handler{capture, capture}}
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("Enabled should be true when any handler accepts")
	}

	logger := slog.New(h)
	logger.Info("fan out")

	mu.Lock()
	defer mu.Unlock()
	if len(records) != 2 {
		t.Errorf("expected record in both handlers, got %d", len(records))
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("absolute path must pass through, got %q", got)
	}
}

func TestArgsToMap(t *testing.T) {
	m := argsToMap([]any{"key1", "value1", "key2", 123, "dangling"})
	if m["key1"] != "value1" || m["key2"] != 123 {
		t.Errorf("unexpected map: %v", m)
	}
	if _, ok := m["dangling"]; ok {
		t.Error("dangling key must be dropped")
	}
}

func TestBufferedExporter_ReturnsCopy(t *testing.T) {
	e := NewBufferedExporter()
	e.Export(context.Background(), LogEntry{Message: "one"})
	entries := e.Entries()
	entries[0].Message = "mutated"
	if e.Entries()[0].Message != "one" {
		t.Error("Entries must return a copy")
	}
}
