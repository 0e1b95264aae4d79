package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/dropgallery/internal/appconfig"
)

func TestConfigInitWritesLoadableDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	var out bytes.Buffer
	cmd := newConfigCmd()
	cmd.SetArgs([]string{"init", "-c", path})
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if strings.TrimSpace(out.String()) != path {
		t.Fatalf("expected path output, got %q", out.String())
	}
	if _, err := appconfig.Load(path); err != nil {
		t.Fatalf("load written config: %v", err)
	}

	cmd = newConfigCmd()
	cmd.SetArgs([]string{"init", "-c", path})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error without --force")
	}

	cmd = newConfigCmd()
	cmd.SetArgs([]string{"init", "-c", path, "--force"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init --force: %v", err)
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	cfgPath := writeTestConfigWith(t, func(cfg *appconfig.Config) {
		cfg.Auth.Mode = appconfig.AuthModeStatic
		cfg.Auth.Password = "super-secret"
	})

	var out bytes.Buffer
	cmd := newConfigCmd()
	cmd.SetArgs([]string{"show", "-c", cfgPath})
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out.String(), "super-secret") {
		t.Fatalf("expected password to be redacted, got %q", out.String())
	}
	if !strings.Contains(out.String(), "driver: file") {
		t.Fatalf("expected storage driver in output, got %q", out.String())
	}
}
