package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/dropgallery/internal/appconfig"
	"pkt.systems/dropgallery/internal/auth"
)

func TestUsersAddRejectsInvalidUsername(t *testing.T) {
	cfgPath := writeTestConfig(t)

	cmd := newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "add", "BadUser", "--auto-password"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error for invalid username")
	}
}

func TestUsersAddAndDeleteValidUsername(t *testing.T) {
	cfgPath := writeTestConfig(t)
	cfg := loadConfigFromPath(t, cfgPath)

	var out bytes.Buffer
	cmd := newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "add", "alice.dev", "--auto-password"})
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if !strings.Contains(out.String(), "password: ") {
		t.Fatalf("expected generated password in output, got %q", out.String())
	}
	if strings.Contains(out.String(), "totp_secret") {
		t.Fatalf("expected no totp enrollment without --totp, got %q", out.String())
	}

	store, err := auth.NewStoreWithLogger(cfg.Auth.UserFile, nil, nil)
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	user := findUser(store.LoadUsers(), "alice.dev")
	if user == nil {
		t.Fatalf("expected alice.dev in store")
	}
	if user.TOTPSecret != "" {
		t.Fatalf("expected password-only user")
	}

	cmd = newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "delete", "alice.dev"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	store, err = auth.NewStoreWithLogger(cfg.Auth.UserFile, nil, nil)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	if findUser(store.LoadUsers(), "alice.dev") != nil {
		t.Fatalf("expected alice.dev to be removed")
	}
}

func TestUsersAddPasswordFromStdin(t *testing.T) {
	cfgPath := writeTestConfig(t)
	cfg := loadConfigFromPath(t, cfgPath)

	cmd := newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "add", "carol", "--password-from-stdin"})
	cmd.SetIn(strings.NewReader("s3cret\n"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("add user: %v", err)
	}
	store, err := auth.NewStoreWithLogger(cfg.Auth.UserFile, nil, nil)
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	if err := store.Authenticate("carol", "s3cret", ""); err != nil {
		t.Fatalf("expected stdin password to authenticate: %v", err)
	}
}

func TestUsersAddPromptsForPassword(t *testing.T) {
	cfgPath := writeTestConfig(t)
	cfg := loadConfigFromPath(t, cfgPath)

	var stderr bytes.Buffer
	cmd := newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "add", "erin"})
	cmd.SetIn(strings.NewReader("hunter2\nhunter2\n"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&stderr)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if !strings.Contains(stderr.String(), "Confirm password: ") {
		t.Fatalf("expected confirmation prompt, got %q", stderr.String())
	}
	store, err := auth.NewStoreWithLogger(cfg.Auth.UserFile, nil, nil)
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	if err := store.Authenticate("erin", "hunter2", ""); err != nil {
		t.Fatalf("expected prompted password to authenticate: %v", err)
	}
}

func TestUsersAddPromptMismatch(t *testing.T) {
	cfgPath := writeTestConfig(t)

	cmd := newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "add", "frank"})
	cmd.SetIn(strings.NewReader("one\ntwo\n"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "do not match") {
		t.Fatalf("expected mismatch error, got %v", err)
	}
}

func TestUsersRotateAndDisableTOTP(t *testing.T) {
	cfgPath := writeTestConfig(t)
	cfg := loadConfigFromPath(t, cfgPath)

	var out bytes.Buffer
	cmd := newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "add", "bob", "--auto-password", "--totp"})
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if !strings.Contains(out.String(), "otpauth_url: otpauth://totp/dropgallery:bob") {
		t.Fatalf("expected otpauth url, got %q", out.String())
	}

	store, err := auth.NewStoreWithLogger(cfg.Auth.UserFile, nil, nil)
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	orig := findUser(store.LoadUsers(), "bob")
	if orig == nil || orig.TOTPSecret == "" {
		t.Fatalf("expected bob with a totp secret, got %+v", orig)
	}

	cmd = newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "rotate-totp", "bob"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("rotate-totp: %v", err)
	}
	store, err = auth.NewStoreWithLogger(cfg.Auth.UserFile, nil, nil)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	rotated := findUser(store.LoadUsers(), "bob")
	if rotated == nil || rotated.TOTPSecret == orig.TOTPSecret {
		t.Fatalf("expected TOTP secret to change")
	}

	cmd = newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "disable-totp", "bob"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("disable-totp: %v", err)
	}
	store, err = auth.NewStoreWithLogger(cfg.Auth.UserFile, nil, nil)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	if user := findUser(store.LoadUsers(), "bob"); user == nil || user.TOTPSecret != "" {
		t.Fatalf("expected totp to be cleared, got %+v", user)
	}
}

func TestUsersChpasswd(t *testing.T) {
	cfgPath := writeTestConfig(t)
	cfg := loadConfigFromPath(t, cfgPath)

	cmd := newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "add", "dave", "--password-from-stdin"})
	cmd.SetIn(strings.NewReader("old-pass"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("add user: %v", err)
	}

	cmd = newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "chpasswd", "dave", "--password-from-stdin"})
	cmd.SetIn(strings.NewReader("new-pass"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("chpasswd: %v", err)
	}

	store, err := auth.NewStoreWithLogger(cfg.Auth.UserFile, nil, nil)
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	if err := store.Authenticate("dave", "old-pass", ""); err == nil {
		t.Fatalf("expected old password to be rejected")
	}
	if err := store.Authenticate("dave", "new-pass", ""); err != nil {
		t.Fatalf("expected new password to authenticate: %v", err)
	}
}

func TestResolvePasswordRejectsConflictingFlags(t *testing.T) {
	cmd := newUsersCmd()
	if _, _, err := resolvePassword(cmd, true, true); err == nil {
		t.Fatalf("expected error for conflicting flags")
	}
}

func TestGeneratePassword(t *testing.T) {
	pass, err := generatePassword(0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(pass) != defaultPasswordLength {
		t.Fatalf("expected %d chars, got %d", defaultPasswordLength, len(pass))
	}
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	return writeTestConfigWith(t, nil)
}

func writeTestConfigWith(t *testing.T, mutate func(*appconfig.Config)) string {
	t.Helper()
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.StateDir = t.TempDir()
	cfg.Auth.Mode = appconfig.AuthModeFile
	cfg.Auth.UserFile = filepath.Join(t.TempDir(), "users.json")
	cfg.Storage.Driver = "file"
	cfg.Gallery.UploadDelayMS = -1
	cfg.Metrics.Enabled = false
	if mutate != nil {
		mutate(&cfg)
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	data, err := appconfig.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func loadConfigFromPath(t *testing.T, path string) appconfig.Config {
	t.Helper()
	cfg, err := appconfig.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func findUser(users []auth.User, username string) *auth.User {
	for _, user := range users {
		if user.Username == username {
			found := user
			return &found
		}
	}
	return nil
}
