package infra

import (
	"fmt"
	"path/filepath"
)

// StateDirName is the tool's state directory inside a workspace.
const StateDirName = ".repo-studio"

// Layout holds every path derived from the workspace root.
// It replaces process-wide globals so the same code runs against temp dirs in tests.
type Layout struct {
	WorkspaceRoot    string // Absolute workspace root
	StateDir         string // <root>/.repo-studio
	RuntimeFile      string // Active runtime record
	CodexRuntimeFile string // Companion agent runtime record
	CodexSessionFile string // Companion session metadata, cleared only on request
	ConfigFile       string // Optional TOML config
	JournalDir       string // Encrypted reclaim journal and its key
}

// NewLayout resolves root to an absolute path and derives the state paths.
func NewLayout(root string) (*Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	stateDir := filepath.Join(abs, StateDirName)
	return &Layout{
		WorkspaceRoot:    abs,
		StateDir:         stateDir,
		RuntimeFile:      filepath.Join(stateDir, "runtime.json"),
		CodexRuntimeFile: filepath.Join(stateDir, "codex-runtime.json"),
		CodexSessionFile: filepath.Join(stateDir, "codex-session.json"),
		ConfigFile:       filepath.Join(stateDir, "config.toml"),
		JournalDir:       stateDir,
	}, nil
}
