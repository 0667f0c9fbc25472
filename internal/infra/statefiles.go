package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
)

// StateFiles reads and clears the tool's own records in the state directory.
// The companion record is owned by another program, so it is read loosely.
type StateFiles struct {
	layout *Layout
	store  domain.RuntimeStateStore
	logger *zap.Logger
}

// NewStateFiles creates the state file manager.
func NewStateFiles(layout *Layout, store domain.RuntimeStateStore, logger *zap.Logger) *StateFiles {
	return &StateFiles{layout: layout, store: store, logger: logger}
}

// TrackedPIDs returns the positive pids recorded in runtime.json (including the
// desktop server and electron pids) and codex-runtime.json. Sorted, unique.
func (f *StateFiles) TrackedPIDs() []int {
	var pids []int

	state, err := f.store.Read()
	if err != nil {
		f.logger.Debug("runtime state unreadable", zap.Error(err))
	}
	if state != nil {
		pids = append(pids, state.PID)
		if state.Mode == domain.ModeDesktop && state.Desktop != nil {
			pids = append(pids, state.Desktop.ElectronPID, state.Desktop.ServerPID)
		}
	}

	if companion, err := f.ReadCompanion(); err == nil && companion != nil {
		pids = append(pids, companion.PID)
	}

	return uniquePositive(pids)
}

// ReadCompanion reads codex-runtime.json. A missing or malformed file is nil, nil
// unless the read itself fails.
func (f *StateFiles) ReadCompanion() (*domain.CompanionRuntime, error) {
	data, err := os.ReadFile(f.layout.CodexRuntimeFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read companion runtime: %w", err)
	}
	if !gjson.ValidBytes(data) {
		f.logger.Debug("companion runtime is not valid JSON", zap.String("path", f.layout.CodexRuntimeFile))
		return nil, nil
	}

	doc := gjson.ParseBytes(data)
	return &domain.CompanionRuntime{
		PID:       int(doc.Get("pid").Int()),
		WSURL:     doc.Get("wsUrl").String(),
		Port:      int(doc.Get("port").Int()),
		StartedAt: doc.Get("startedAt").String(),
	}, nil
}

// ClearRuntimeState removes runtime.json and codex-runtime.json, plus
// codex-session.json when includeSession is set. Missing files are skipped.
func (f *StateFiles) ClearRuntimeState(includeSession bool) ([]string, error) {
	paths := []string{f.layout.RuntimeFile, f.layout.CodexRuntimeFile}
	if includeSession {
		paths = append(paths, f.layout.CodexSessionFile)
	}

	var removed []string
	var errs []error
	for _, p := range paths {
		err := os.Remove(p)
		switch {
		case err == nil:
			removed = append(removed, p)
		case errors.Is(err, fs.ErrNotExist):
		default:
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", p, err))
		}
	}
	return removed, errors.Join(errs...)
}

func uniquePositive(values []int) []int {
	seen := make(map[int]bool, len(values))
	out := make([]int, 0, len(values))
	for _, v := range values {
		if v <= 0 || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// Ensure StateFiles implements the state interfaces.
var (
	_ domain.TrackedPIDSource = (*StateFiles)(nil)
	_ domain.StateCleaner     = (*StateFiles)(nil)
)
