package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/config"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
)

// FileRuntimeStore implements domain.RuntimeStateStore with a pretty-printed JSON file.
type FileRuntimeStore struct {
	path string
	cfg  config.Config
}

// NewFileRuntimeStore creates the store at the layout's runtime file.
func NewFileRuntimeStore(layout *Layout, cfg config.Config) *FileRuntimeStore {
	return &FileRuntimeStore{path: layout.RuntimeFile, cfg: cfg}
}

// NewFileRuntimeStoreWithPath creates a store at a specific path (for testing).
func NewFileRuntimeStoreWithPath(path string, cfg config.Config) *FileRuntimeStore {
	return &FileRuntimeStore{path: path, cfg: cfg}
}

func (s *FileRuntimeStore) Path() string {
	return s.path
}

// Read loads the record. A missing file is nil, nil.
func (s *FileRuntimeStore) Read() (*domain.RuntimeState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read runtime state: %w", err)
	}

	var state domain.RuntimeState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse runtime state %s: %w", s.path, err)
	}
	normalized := NormalizeRuntimeState(state, s.cfg)
	return &normalized, nil
}

// Write replaces the record wholesale. Readers never observe a partial file.
func (s *FileRuntimeStore) Write(state domain.RuntimeState) (*domain.RuntimeState, error) {
	normalized := NormalizeRuntimeState(state, s.cfg)

	data, err := json.MarshalIndent(normalized, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode runtime state: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := atomicWriteFile(s.path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write runtime state: %w", err)
	}
	return &normalized, nil
}

// Clear deletes the record. Already absent is success.
func (s *FileRuntimeStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear runtime state: %w", err)
	}
	return nil
}

// NormalizeRuntimeState applies the record invariants: unknown modes become
// package, the desktop block exists only in desktop mode, a missing port takes
// the mode default, and URL is derived.
func NormalizeRuntimeState(state domain.RuntimeState, cfg config.Config) domain.RuntimeState {
	switch state.Mode {
	case domain.ModeApp, domain.ModePackage, domain.ModeDesktop:
	default:
		state.Mode = domain.ModePackage
	}

	if state.Mode == domain.ModeDesktop {
		if state.Desktop == nil {
			state.Desktop = &domain.DesktopRuntime{}
		} else {
			d := *state.Desktop
			state.Desktop = &d
		}
	} else {
		state.Desktop = nil
	}

	if state.Port <= 0 {
		state.Port = cfg.DefaultPortFor(string(state.Mode))
	}
	if state.PID < 0 {
		state.PID = 0
	}
	state.URL = state.LocalURL()
	return state
}

// atomicWriteFile writes via a per-process temp file and rename.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure FileRuntimeStore implements domain.RuntimeStateStore.
var _ domain.RuntimeStateStore = (*FileRuntimeStore)(nil)
