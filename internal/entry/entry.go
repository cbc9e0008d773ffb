// Package entry persists configuration entries: one JSON file per gateway
// holding its identity and the OAuth token pair. It is the only place the
// access token is stored. Files are written atomically with owner-only
// permissions and token values are never logged.
package entry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/CaseyRo/ha-bosch/internal/oauth"
)

// FilePerms restricts entry files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the entries directory.
const DirPerms = 0o700

// Device identity for cloud-connected EasyControl gateways.
const (
	DeviceTypeEasyControl = "EASYCONTROL"
	ProtocolPOINTTAPI     = "POINTTAPI"
)

// ErrInvalidDeviceID is returned for serial numbers that are not digits.
var ErrInvalidDeviceID = errors.New("entry: device id must contain only digits")

// Entry is one configured gateway.
type Entry struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	DeviceID   string      `json:"device_id"`
	DeviceType string      `json:"device_type"`
	Protocol   string      `json:"protocol"`
	Token      oauth.Token `json:"token"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// New creates an entry for a POINTTAPI gateway. rawDeviceID may contain the
// dashes printed on the device label.
func New(rawDeviceID string, tok oauth.Token) (*Entry, error) {
	id, err := NormalizeDeviceID(rawDeviceID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	return &Entry{
		ID:         uuid.NewString(),
		Title:      "EasyControl " + id,
		DeviceID:   id,
		DeviceType: DeviceTypeEasyControl,
		Protocol:   ProtocolPOINTTAPI,
		Token:      tok,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// NormalizeDeviceID strips whitespace and dashes from a serial number.
func NormalizeDeviceID(raw string) (string, error) {
	id := strings.ReplaceAll(strings.TrimSpace(raw), "-", "")
	if id == "" {
		return "", ErrInvalidDeviceID
	}

	for _, r := range id {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalidDeviceID, raw)
		}
	}

	return id, nil
}

// Path is the file an entry for deviceID lives in under dir.
func Path(dir, deviceID string) string {
	return filepath.Join(dir, deviceID+".json")
}

// Load reads an entry file. Returns (nil, nil) if the file does not exist.
func Load(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("entry: reading %s: %w", path, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("entry: decoding %s: %w", path, err)
	}

	if e.DeviceID == "" {
		return nil, fmt.Errorf("entry: %s missing device_id", path)
	}

	return &e, nil
}

// Save writes e to path atomically (temp file in the same directory, then
// rename) with 0600 permissions.
func Save(path string, e *Entry) error {
	if e == nil {
		return errors.New("entry: refusing to save nil entry")
	}

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("entry: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("entry: creating directory %s: %w", dir, mkErr)
	}

	tmp, err := os.CreateTemp(dir, ".entry-*.tmp")
	if err != nil {
		return fmt.Errorf("entry: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("entry: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("entry: writing: %w", err)
	}

	// A crash between close and rename must not leave a truncated entry.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("entry: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("entry: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("entry: renaming: %w", err)
	}

	success = true

	return nil
}

// Remove deletes an entry file and its lock file. A missing file is not an
// error.
func Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("entry: removing %s: %w", path, err)
	}

	_ = os.Remove(lockFile(path))

	return nil
}

// List loads every entry in dir, sorted by device id. A missing directory
// yields no entries.
func List(dir string) ([]*Entry, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("entry: listing %s: %w", dir, err)
	}

	entries := make([]*Entry, 0, len(matches))

	for _, path := range matches {
		e, err := Load(path)
		if err != nil {
			return nil, err
		}

		if e != nil {
			entries = append(entries, e)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].DeviceID < entries[j].DeviceID })

	return entries, nil
}

// ErrRemoved is returned when a token is saved for an entry whose file was
// deleted by logout.
var ErrRemoved = errors.New("entry: entry was removed")

// lockPollInterval is how often LockToken retries a held lock.
const lockPollInterval = 50 * time.Millisecond

// FileStore is an entry bound to its file. It implements oauth.TokenStore
// and oauth.TokenLocker. The file is the source of truth: another process
// (a CLI command next to a running bridge, or a new login) may rewrite it
// at any time, so every read goes back to disk and the cached copy is only
// a fallback when the file cannot be read.
type FileStore struct {
	path string

	mu    sync.RWMutex
	entry Entry
}

// NewFileStore binds e to path. e is copied.
func NewFileStore(path string, e *Entry) *FileStore {
	return &FileStore{path: path, entry: *e}
}

// OpenFileStore loads the entry at path.
func OpenFileStore(path string) (*FileStore, error) {
	e, err := Load(path)
	if err != nil {
		return nil, err
	}

	if e == nil {
		return nil, fmt.Errorf("entry: no entry at %s: %w", path, fs.ErrNotExist)
	}

	return NewFileStore(path, e), nil
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Entry returns a copy of the entry as last seen on disk.
func (s *FileStore) Entry() Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.entry
}

// Token re-reads the entry file and returns its token. A removed entry has
// no token. If the file cannot be read the last known token is returned.
func (s *FileStore) Token() oauth.Token {
	e, err := Load(s.path)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case err != nil:
		return s.entry.Token
	case e == nil:
		return oauth.Token{}
	}

	s.entry = *e

	return e.Token
}

// SaveToken writes tok into the entry currently on disk, so fields written
// by another process survive. It refuses to recreate a removed entry.
func (s *FileStore) SaveToken(tok oauth.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := Load(s.path)
	if err != nil {
		return err
	}

	if cur == nil {
		return fmt.Errorf("%w: %s", ErrRemoved, s.path)
	}

	next := *cur
	next.Token = tok
	next.UpdatedAt = time.Now().UTC()

	if err := Save(s.path, &next); err != nil {
		return err
	}

	s.entry = next

	return nil
}

// LockToken takes an exclusive flock on the entry's lock file, shared by
// every process using the entry. The token is read, refreshed and written
// back while it is held, so a rotated refresh token is never used twice.
func (s *FileStore) LockToken(ctx context.Context) (func(), error) {
	lockPath := lockFile(s.path)

	if err := os.MkdirAll(filepath.Dir(lockPath), DirPerms); err != nil {
		return nil, fmt.Errorf("entry: creating directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, FilePerms)
	if err != nil {
		return nil, fmt.Errorf("entry: opening lock file: %w", err)
	}

	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}

		if !errors.Is(err, syscall.EWOULDBLOCK) {
			f.Close()
			return nil, fmt.Errorf("entry: locking %s: %w", lockPath, err)
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("entry: waiting for lock on %s: %w", lockPath, ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}

	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}

func lockFile(path string) string {
	return path + ".lock"
}
