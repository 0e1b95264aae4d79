package auth

import (
	"encoding/json"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"pkt.systems/dropgallery/internal/appconfig"
	"pkt.systems/dropgallery/schema"
	"pkt.systems/pslog"
)

var (
	errUserExists   = errors.New("user already exists")
	errUserNotFound = errors.New("user not found")
	errBadUsername  = errors.New("invalid username")
)

// User is one account in the user file. An empty TOTPSecret means the user
// signs in with username and password only.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	TOTPSecret   string `json:"totp_secret,omitempty"`
}

// Store is the file-backed user database behind auth.mode "file". Edits
// written by another process (the users CLI) are picked up on the next call.
type Store struct {
	path string
	log  pslog.Logger

	mu    sync.RWMutex
	users map[string]User
	seen  fileStamp
}

// NewStore loads or seeds the user store.
func NewStore(path string, seeds []appconfig.SeedUser) (*Store, error) {
	return NewStoreWithLogger(path, seeds, nil)
}

// NewStoreWithLogger loads the user file, creating it from seeds when it
// does not exist yet.
func NewStoreWithLogger(path string, seeds []appconfig.SeedUser, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("user file path is required")
	}
	if logger != nil {
		logger = logger.With("user_file", path)
	}
	s := &Store{path: path, log: logger, users: map[string]User{}}
	if err := s.seed(seeds); err != nil {
		s.warn("auth store init failed", "err", err)
		return nil, err
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Authenticate checks the password and, for enrolled users, the TOTP code.
func (s *Store) Authenticate(username, password, totpCode string) error {
	user, ok, err := s.lookup(username)
	if err != nil {
		return err
	}
	if !ok || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return ErrInvalidCredentials
	}
	if user.TOTPSecret != "" && !totp.Validate(strings.TrimSpace(totpCode), user.TOTPSecret) {
		return ErrInvalidTOTP
	}
	return nil
}

// Validate implements Validator. Users enrolled in TOTP never pass.
func (s *Store) Validate(username, password string) bool {
	user, ok, err := s.lookup(username)
	if err != nil || !ok || user.TOTPSecret != "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
}

// ChangePassword re-authenticates the user before storing a new hash.
func (s *Store) ChangePassword(username, currentPassword, totpCode, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return errors.New("new password is required")
	}
	if err := s.Authenticate(username, currentPassword, totpCode); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.UpdatePassword(username, string(hash))
}

// ValidateTOTP checks a code against the user's enrolled secret.
func (s *Store) ValidateTOTP(username string, totpCode string) error {
	if err := checkUsername(username); err != nil {
		return err
	}
	user, ok, err := s.lookup(username)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	if user.TOTPSecret == "" || !totp.Validate(strings.TrimSpace(totpCode), user.TOTPSecret) {
		return ErrInvalidTOTP
	}
	return nil
}

// LoadUsers returns all users sorted by name.
func (s *Store) LoadUsers() []User {
	if err := s.sync(); err != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedUsers(s.users)
}

// AddUser creates a user. It fails when the name is taken.
func (s *Store) AddUser(user User) error {
	return s.edit(user.Username, "user add", func(current *User, exists bool) (bool, error) {
		if exists {
			return false, errUserExists
		}
		current.PasswordHash = user.PasswordHash
		current.TOTPSecret = user.TOTPSecret
		return true, nil
	})
}

// UpdatePassword replaces the stored bcrypt hash.
func (s *Store) UpdatePassword(username, passwordHash string) error {
	if strings.TrimSpace(passwordHash) == "" {
		return errors.New("password hash is required")
	}
	return s.edit(username, "password update", func(current *User, exists bool) (bool, error) {
		if !exists {
			return false, errUserNotFound
		}
		current.PasswordHash = passwordHash
		return true, nil
	})
}

// UpdateTOTP enrolls the user or rotates the secret.
func (s *Store) UpdateTOTP(username, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return errors.New("totp secret is required")
	}
	return s.edit(username, "totp update", func(current *User, exists bool) (bool, error) {
		if !exists {
			return false, errUserNotFound
		}
		current.TOTPSecret = secret
		return true, nil
	})
}

// ClearTOTP drops the TOTP secret so the user signs in with a password only.
func (s *Store) ClearTOTP(username string) error {
	return s.edit(username, "totp clear", func(current *User, exists bool) (bool, error) {
		if !exists {
			return false, errUserNotFound
		}
		current.TOTPSecret = ""
		return true, nil
	})
}

// DeleteUser removes a user.
func (s *Store) DeleteUser(username string) error {
	return s.edit(username, "user delete", func(_ *User, exists bool) (bool, error) {
		if !exists {
			return false, errUserNotFound
		}
		return false, nil
	})
}

func (s *Store) lookup(username string) (User, bool, error) {
	if err := s.sync(); err != nil {
		return User{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[strings.TrimSpace(username)]
	return user, ok, nil
}

// edit runs fn on a copy of the named record under the write lock and
// persists the result. fn returns keep=false to drop the record.
func (s *Store) edit(username, action string, fn func(current *User, exists bool) (keep bool, err error)) error {
	if err := checkUsername(username); err != nil {
		return err
	}
	if err := s.sync(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.users[username]
	current.Username = username
	keep, err := fn(&current, exists)
	if err != nil {
		return err
	}
	next := maps.Clone(s.users)
	if keep {
		next[username] = current
	} else {
		delete(next, username)
	}
	if err := s.writeLocked(next); err != nil {
		s.warn("auth "+action+" failed", "user", username, "err", err)
		return err
	}
	s.users = next
	if s.log != nil {
		s.log.Info("auth "+action+" ok", "user", username)
	}
	return nil
}

func (s *Store) seed(seeds []appconfig.SeedUser) error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	users := make(map[string]User, len(seeds))
	for _, seed := range seeds {
		if err := checkUsername(seed.Username); err != nil {
			return err
		}
		users[seed.Username] = User{
			Username:     seed.Username,
			PasswordHash: seed.PasswordHash,
			TOTPSecret:   seed.TOTPSecret,
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeLocked(users); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Info("auth store initialized", "users", len(users))
	}
	return nil
}

// sync reloads the file when its stamp differs from the last one seen.
func (s *Store) sync() error {
	info, err := os.Stat(s.path)
	if err != nil {
		s.warn("auth store stat failed", "err", err)
		return err
	}
	s.mu.RLock()
	unchanged := s.seen.equal(stampOf(info))
	s.mu.RUnlock()
	if unchanged {
		return nil
	}
	return s.reload()
}

func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.warn("auth store load failed", "err", err)
		return err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		s.warn("auth store load failed", "err", err)
		return err
	}
	var list []User
	if err := json.Unmarshal(data, &list); err != nil {
		s.warn("auth store load failed", "err", err)
		return err
	}
	users := make(map[string]User, len(list))
	for _, user := range list {
		if err := checkUsername(user.Username); err != nil {
			s.warn("auth store load failed", "user", user.Username, "err", err)
			return err
		}
		users[user.Username] = user
	}
	s.mu.Lock()
	s.users = users
	s.seen = stampOf(info)
	s.mu.Unlock()
	if s.log != nil {
		s.log.Debug("auth store load ok", "users", len(users))
	}
	return nil
}

// writeLocked replaces the user file atomically.
func (s *Store) writeLocked(users map[string]User) (err error) {
	data, err := json.MarshalIndent(sortedUsers(users), "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".users-*.json")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return err
	}
	if info, statErr := os.Stat(s.path); statErr == nil {
		s.seen = stampOf(info)
	}
	return nil
}

func (s *Store) warn(msg string, kv ...any) {
	if s.log != nil {
		s.log.Warn(msg, kv...)
	}
}

func sortedUsers(users map[string]User) []User {
	out := slices.Collect(maps.Values(users))
	slices.SortFunc(out, func(a, b User) int { return strings.Compare(a.Username, b.Username) })
	return out
}

func checkUsername(username string) error {
	if schema.ValidateUserID(schema.UserID(username)) != nil {
		return errBadUsername
	}
	return nil
}

// fileStamp identifies one version of the user file. Rename-based writes
// change the inode even when size and mtime collide.
type fileStamp struct {
	modTime time.Time
	size    int64
	inode   uint64
	dev     uint64
}

func stampOf(info os.FileInfo) fileStamp {
	stamp := fileStamp{modTime: info.ModTime(), size: info.Size()}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		stamp.inode = uint64(st.Ino)
		stamp.dev = uint64(st.Dev)
	}
	return stamp
}

func (f fileStamp) equal(other fileStamp) bool {
	return f.size == other.size &&
		f.modTime.Equal(other.modTime) &&
		f.inode == other.inode &&
		f.dev == other.dev
}
