package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"charfs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("storage")
)

// DefaultBackupCount is the number of rotated backups kept by a FileAdapter.
const DefaultBackupCount = 5

// FileAdapter keeps every key in one JSON document on disk. Each save
// rotates a timestamped backup of the previous document.
type FileAdapter struct {
	statePath   string
	backupDir   string
	backupCount int
	state       *FileState
	closed      bool
	mu          sync.RWMutex
}

// NewFileAdapter creates a file adapter for the given state file path.
// It ensures the state directory exists and is writable, then loads any
// existing document. A backupCount of 0 keeps no backups; a negative one
// keeps DefaultBackupCount.
func NewFileAdapter(statePath string, backupCount int) (*FileAdapter, error) {
	logger.Debug("Creating file adapter with path: %s", statePath)

	absPath, err := filepath.Abs(statePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state path %s: %w", statePath, err)
	}
	logger.Debug("Resolved state path: %s", absPath)

	stateDir := filepath.Dir(absPath)
	if mkdirErr := os.MkdirAll(stateDir, 0755); mkdirErr != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, mkdirErr)
	}

	// Try to create an empty file to verify we have write permissions
	f, writeErr := os.OpenFile(absPath, os.O_WRONLY|os.O_CREATE, 0644)
	if writeErr != nil {
		return nil, fmt.Errorf("failed to create state file %s: %w", absPath, writeErr)
	}
	f.Close()

	backupDir := filepath.Join(stateDir, ".charfs-backups")
	if backupDirErr := os.MkdirAll(backupDir, 0755); backupDirErr != nil {
		return nil, fmt.Errorf("failed to create backup directory %s: %w", backupDir, backupDirErr)
	}

	if backupCount < 0 {
		backupCount = DefaultBackupCount
	}

	fa := &FileAdapter{
		statePath:   absPath,
		backupDir:   backupDir,
		backupCount: backupCount,
	}

	state, err := fa.loadState()
	if err != nil {
		return nil, err
	}
	fa.state = state

	logger.Info("File adapter ready at %s (%d keys)", absPath, len(state.Entries))
	return fa, nil
}

// loadState reads the document from disk. An empty or missing file yields a
// fresh document.
func (fa *FileAdapter) loadState() (*FileState, error) {
	data, err := os.ReadFile(fa.statePath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if len(data) == 0 {
		logger.Info("No valid state file, starting with an empty document")
		return &FileState{Entries: make(map[string]string), Version: 1}, nil
	}

	logger.Debug("Parsing existing state file (%d bytes)", len(data))
	var state FileState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}

	if state.Entries == nil {
		state.Entries = make(map[string]string)
	}
	return &state, nil
}

// Get implements Adapter.
func (fa *FileAdapter) Get(_ context.Context, key string) ([]byte, error) {
	fa.mu.RLock()
	defer fa.mu.RUnlock()

	if fa.closed {
		return nil, ErrClosed
	}

	v, ok := fa.state.Entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(v), nil
}

// Set implements Adapter. The document is saved before Set returns.
func (fa *FileAdapter) Set(_ context.Context, key string, value []byte) error {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	if fa.closed {
		return ErrClosed
	}

	prev, had := fa.state.Entries[key]
	fa.state.Entries[key] = string(value)
	if err := fa.saveState(); err != nil {
		if had {
			fa.state.Entries[key] = prev
		} else {
			delete(fa.state.Entries, key)
		}
		return err
	}
	return nil
}

// Delete implements Adapter.
func (fa *FileAdapter) Delete(_ context.Context, key string) error {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	if fa.closed {
		return ErrClosed
	}

	if _, ok := fa.state.Entries[key]; !ok {
		return nil
	}
	delete(fa.state.Entries, key)
	return fa.saveState()
}

// Keys implements Adapter.
func (fa *FileAdapter) Keys(_ context.Context, prefix string) ([]string, error) {
	fa.mu.RLock()
	defer fa.mu.RUnlock()

	if fa.closed {
		return nil, ErrClosed
	}

	keys := make([]string, 0, len(fa.state.Entries))
	for k := range fa.state.Entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Adapter.
func (fa *FileAdapter) Close() error {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.closed = true
	return nil
}

// Path returns the absolute path of the state file.
func (fa *FileAdapter) Path() string {
	return fa.statePath
}

// saveState writes the document to disk. Caller holds fa.mu.
func (fa *FileAdapter) saveState() error {
	logger.Debug("Saving state to: %s", fa.statePath)

	if backupErr := fa.createBackup(); backupErr != nil {
		logger.Warn("Failed to create backup: %v", backupErr)
		// Continue with save even if backup fails
	}

	data, marshalErr := json.MarshalIndent(fa.state, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal state: %w", marshalErr)
	}

	logger.Trace("Writing %d bytes of state data", len(data))
	tmp := fa.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, fa.statePath); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	logger.Debug("State saved successfully")
	return nil
}

// createBackup creates a timestamped backup of the current state file
func (fa *FileAdapter) createBackup() error {
	if fa.backupCount == 0 {
		return fa.cleanupOldBackups()
	}
	data, err := os.ReadFile(fa.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	timestamp := time.Now().Format("20060102-150405.000000000")
	backupPath := filepath.Join(fa.backupDir, fmt.Sprintf("state-%s.json", timestamp))

	logger.Trace("Creating backup: %s", backupPath)
	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	return fa.cleanupOldBackups()
}

// Backups lists backup files, newest first.
func (fa *FileAdapter) Backups() ([]string, error) {
	entries, err := os.ReadDir(fa.backupDir)
	if err != nil {
		return nil, err
	}

	type backup struct {
		path    string
		modTime time.Time
	}

	backups := make([]backup, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backup{
			path:    filepath.Join(fa.backupDir, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	// Newest first; names carry the timestamp and break modtime ties.
	sort.Slice(backups, func(i, j int) bool {
		if backups[i].modTime.Equal(backups[j].modTime) {
			return backups[i].path > backups[j].path
		}
		return backups[i].modTime.After(backups[j].modTime)
	})

	paths := make([]string, len(backups))
	for i, b := range backups {
		paths[i] = b.path
	}
	return paths, nil
}

// cleanupOldBackups removes old backup files, keeping only the most recent ones
func (fa *FileAdapter) cleanupOldBackups() error {
	backups, err := fa.Backups()
	if err != nil {
		return err
	}

	for i := fa.backupCount; i < len(backups); i++ {
		logger.Trace("Removing old backup: %s", backups[i])
		if err := os.Remove(backups[i]); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", backups[i], err)
		}
	}

	return nil
}
