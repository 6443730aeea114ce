package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_MatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Bps != 100000 {
		t.Fatalf("expected default bps 100000, got %d", cfg.Bps)
	}
	if cfg.MaxPacketSize != 100 {
		t.Fatalf("expected default max_packet_size 100, got %d", cfg.MaxPacketSize)
	}
	if cfg.Endpoints.Ingest != ":3000" || cfg.Endpoints.Telecommand != ":3001" ||
		cfg.Endpoints.DownlinkSource != ":3002" || cfg.Endpoints.Request != ":8080" {
		t.Fatalf("unexpected default endpoints: %+v", cfg.Endpoints)
	}
}

func TestLoad_OverridesOnlySpecifiedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bus.yaml")
	yaml := "bps: 250000\nendpoints:\n  ingest: \":4000\"\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bps != 250000 {
		t.Fatalf("expected overridden bps 250000, got %d", cfg.Bps)
	}
	if cfg.Endpoints.Ingest != ":4000" {
		t.Fatalf("expected overridden ingest addr, got %q", cfg.Endpoints.Ingest)
	}
	if cfg.MaxPacketSize != 100 {
		t.Fatalf("expected untouched default max_packet_size 100, got %d", cfg.MaxPacketSize)
	}
	if cfg.Endpoints.Telecommand != ":3001" {
		t.Fatalf("expected untouched default telecommand addr, got %q", cfg.Endpoints.Telecommand)
	}
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	if _, err := Load("/nonexistent/path/bus.yaml"); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestWatcher_ReloadsOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bus.yaml")
	if err := os.WriteFile(path, []byte("bps: 100000\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer w.Stop()

	changes, errs := w.Watch(ctx)

	if err := os.WriteFile(path, []byte("bps: 555555\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case cfg := <-changes:
		if cfg.Bps != 555555 {
			t.Fatalf("expected reloaded bps 555555, got %d", cfg.Bps)
		}
	case err := <-errs:
		t.Fatalf("unexpected watch error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for config reload")
	}
}
