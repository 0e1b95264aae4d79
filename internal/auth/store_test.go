package auth

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"pkt.systems/dropgallery/internal/appconfig"
)

func newTestStore(t *testing.T, seeds []appconfig.SeedUser) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.json")
	store, err := NewStoreWithLogger(path, seeds, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, path
}

func TestStoreRejectsInvalidUsername(t *testing.T) {
	store, _ := newTestStore(t, nil)
	if err := store.AddUser(User{
		Username:     "Alice",
		PasswordHash: "hash",
	}); err == nil {
		t.Fatalf("expected invalid username error")
	}
}

func TestStoreRejectsInvalidSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	_, err := NewStoreWithLogger(path, []appconfig.SeedUser{
		{Username: "BadUser", PasswordHash: "hash"},
	}, nil)
	if err == nil {
		t.Fatalf("expected error for invalid seed user")
	}
}

func TestStoreSeedsUsers(t *testing.T) {
	store, _ := newTestStore(t, []appconfig.SeedUser{
		{Username: "user@example.com", PasswordHash: mustHash(t, "1Password")},
	})
	if !store.Validate("user@example.com", "1Password") {
		t.Fatalf("expected seeded user to validate")
	}
	users := store.LoadUsers()
	if len(users) != 1 || users[0].Username != "user@example.com" {
		t.Fatalf("unexpected users: %+v", users)
	}
}

func TestStoreAuthenticateWithoutTOTP(t *testing.T) {
	store, _ := newTestStore(t, nil)
	if err := store.AddUser(User{Username: "alice", PasswordHash: mustHash(t, "pass")}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if err := store.Authenticate("alice", "pass", ""); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := store.Authenticate("alice", "wrong", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if err := store.Authenticate("nobody", "pass", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
}

func TestStoreAuthenticateRequiresTOTPWhenEnrolled(t *testing.T) {
	store, _ := newTestStore(t, nil)
	secret := "JBSWY3DPEHPK3PXP"
	if err := store.AddUser(User{Username: "alice", PasswordHash: mustHash(t, "pass"), TOTPSecret: secret}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if err := store.Authenticate("alice", "pass", "000000x"); !errors.Is(err, ErrInvalidTOTP) {
		t.Fatalf("expected invalid totp, got %v", err)
	}
	if err := store.Authenticate("alice", "pass", mustTOTP(t, secret)); err != nil {
		t.Fatalf("authenticate with totp: %v", err)
	}
	if store.Validate("alice", "pass") {
		t.Fatalf("plain validation must not bypass an enrolled totp")
	}
}

func TestStoreChangePassword(t *testing.T) {
	store, _ := newTestStore(t, nil)
	secret := "JBSWY3DPEHPK3PXP"
	if err := store.AddUser(User{
		Username:     "alice",
		PasswordHash: mustHash(t, "old-pass"),
		TOTPSecret:   secret,
	}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	code := mustTOTP(t, secret)
	if err := store.ChangePassword("alice", "old-pass", code, "new-pass"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if err := store.Authenticate("alice", "new-pass", code); err != nil {
		t.Fatalf("authenticate new password: %v", err)
	}
	if err := store.Authenticate("alice", "old-pass", code); err == nil {
		t.Fatalf("expected old password to fail")
	}
}

func TestStoreReloadsPasswordChange(t *testing.T) {
	writer, path := newTestStore(t, nil)
	if err := writer.AddUser(User{Username: "alice", PasswordHash: mustHash(t, "old-pass")}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	reader, err := NewStoreWithLogger(path, nil, nil)
	if err != nil {
		t.Fatalf("new store reader: %v", err)
	}
	if !reader.Validate("alice", "old-pass") {
		t.Fatalf("expected old password to validate")
	}
	if err := writer.UpdatePassword("alice", mustHash(t, "new-pass")); err != nil {
		t.Fatalf("update password: %v", err)
	}
	if !reader.Validate("alice", "new-pass") {
		t.Fatalf("expected new password after refresh")
	}
	if reader.Validate("alice", "old-pass") {
		t.Fatalf("expected old password to fail after refresh")
	}
}

func TestStoreReloadsUserAddDelete(t *testing.T) {
	writer, path := newTestStore(t, nil)
	reader, err := NewStoreWithLogger(path, nil, nil)
	if err != nil {
		t.Fatalf("new store reader: %v", err)
	}
	if err := writer.AddUser(User{Username: "bob", PasswordHash: mustHash(t, "pass")}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if err := reader.Authenticate("bob", "pass", ""); err != nil {
		t.Fatalf("authenticate new user: %v", err)
	}
	if err := writer.DeleteUser("bob"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if err := reader.Authenticate("bob", "pass", ""); err == nil {
		t.Fatalf("expected deleted user login to fail")
	}
}

func TestStoreReloadsTOTPChange(t *testing.T) {
	writer, path := newTestStore(t, nil)
	secretA := "JBSWY3DPEHPK3PXP"
	if err := writer.AddUser(User{Username: "alice", PasswordHash: mustHash(t, "pass"), TOTPSecret: secretA}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	reader, err := NewStoreWithLogger(path, nil, nil)
	if err != nil {
		t.Fatalf("new store reader: %v", err)
	}
	secretB := "KRSXG5DSNFXGOIDB"
	if err := writer.UpdateTOTP("alice", secretB); err != nil {
		t.Fatalf("update totp: %v", err)
	}
	if err := reader.ValidateTOTP("alice", mustTOTP(t, secretB)); err != nil {
		t.Fatalf("validate rotated totp: %v", err)
	}
	if err := reader.ValidateTOTP("alice", mustTOTP(t, secretA)); err == nil {
		t.Fatalf("expected old totp to fail after refresh")
	}
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return string(hash)
}

func mustTOTP(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("generate totp: %v", err)
	}
	return code
}

func TestStoreClearTOTP(t *testing.T) {
	store, _ := newTestStore(t, nil)
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "dropgallery", AccountName: "alice"})
	if err != nil {
		t.Fatalf("totp generate: %v", err)
	}
	if err := store.AddUser(User{Username: "alice", PasswordHash: mustHash(t, "pass"), TOTPSecret: key.Secret()}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if err := store.Authenticate("alice", "pass", ""); !errors.Is(err, ErrInvalidTOTP) {
		t.Fatalf("expected totp to be required, got %v", err)
	}
	if err := store.ClearTOTP("alice"); err != nil {
		t.Fatalf("clear totp: %v", err)
	}
	if err := store.Authenticate("alice", "pass", ""); err != nil {
		t.Fatalf("expected password-only login after clear, got %v", err)
	}
	if err := store.ClearTOTP("bob"); err == nil {
		t.Fatalf("expected error for unknown user")
	}
}
