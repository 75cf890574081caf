// Package store persists room snapshots and uploaded assets as flat files.
// Each keyspace is one directory; the sanitized id is the file name.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/inkhub/inkhub/internal/log"
)

var (
	// ErrNotFound is returned when no file exists for the requested id.
	ErrNotFound = errors.New("store: not found")
	// ErrInvalidID is returned for ids that could escape the keyspace directory.
	ErrInvalidID = errors.New("store: invalid id")
)

// Entry describes one stored file for listings.
type Entry struct {
	ID      string
	Size    int64
	ModTime time.Time
}

// Store is a two-keyspace blob store: room snapshots and assets.
type Store struct {
	roomsDir  string
	assetsDir string
	logger    zerolog.Logger
}

// New creates the keyspace directories if needed and returns the store.
func New(roomsDir, assetsDir string) (*Store, error) {
	for _, dir := range []string{roomsDir, assetsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", dir, err)
		}
	}
	return &Store{
		roomsDir:  roomsDir,
		assetsDir: assetsDir,
		logger:    log.WithComponent("store"),
	}, nil
}

// ValidateID rejects ids that are empty or could traverse out of the
// keyspace directory. The id is used verbatim as a file name.
func ValidateID(id string) error {
	if id == "" {
		return ErrInvalidID
	}
	if strings.ContainsAny(id, "/\\\x00") {
		return ErrInvalidID
	}
	if id == "." || id == ".." || strings.Contains(id, "..") {
		return ErrInvalidID
	}
	return nil
}

func (s *Store) path(dir, id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(dir, id), nil
}

func (s *Store) read(dir, id string) ([]byte, error) {
	p, err := s.path(dir, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

func (s *Store) write(dir, id string, data []byte) error {
	p, err := s.path(dir, id)
	if err != nil {
		return err
	}
	// The keyspace directory may have been removed at runtime; recreate it
	// instead of failing every write until restart.
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	// Atomic replace: a concurrent read sees either the old or the new bytes.
	if err := renameio.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

func (s *Store) delete(dir, id string) error {
	p, err := s.path(dir, id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return nil
}

// list enumerates a keyspace. Files deleted between the directory read and
// the stat are skipped rather than failing the whole listing.
func (s *Store) list(dir string) ([]Entry, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if d.IsDir() {
			continue
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			s.logger.Warn().Err(err).Str("file", d.Name()).Msg("stat failed during listing")
			continue
		}
		entries = append(entries, Entry{ID: d.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// ReadRoom returns the snapshot bytes for a room, or ErrNotFound.
func (s *Store) ReadRoom(id string) ([]byte, error) { return s.read(s.roomsDir, id) }

// WriteRoom atomically replaces the snapshot for a room.
func (s *Store) WriteRoom(id string, data []byte) error { return s.write(s.roomsDir, id, data) }

// DeleteRoom removes the snapshot for a room. Idempotent.
func (s *Store) DeleteRoom(id string) error { return s.delete(s.roomsDir, id) }

// ListRooms enumerates stored room snapshots.
func (s *Store) ListRooms() ([]Entry, error) { return s.list(s.roomsDir) }

// ReadAsset returns the bytes for an asset, or ErrNotFound.
func (s *Store) ReadAsset(id string) ([]byte, error) { return s.read(s.assetsDir, id) }

// WriteAsset atomically replaces the bytes for an asset.
func (s *Store) WriteAsset(id string, data []byte) error { return s.write(s.assetsDir, id, data) }

// DeleteAsset removes an asset. Idempotent.
func (s *Store) DeleteAsset(id string) error { return s.delete(s.assetsDir, id) }

// ListAssets enumerates stored assets.
func (s *Store) ListAssets() ([]Entry, error) { return s.list(s.assetsDir) }
