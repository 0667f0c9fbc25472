package domain

import (
	"context"
	"errors"
)

var (
	// ErrInvalidScope is returned when a scope string is not recognized.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrInvalidPlan is returned when the executor receives a malformed plan.
	ErrInvalidPlan = errors.New("invalid reclaim plan")

	// ErrScopeGuard is returned when a destructive repo-wide reclaim lacks --force.
	ErrScopeGuard = errors.New("repo scope reclaim requires --force")
)

// ProcessManager handles local process facts.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int

	// GetParentPID returns the parent of the current process.
	GetParentPID() int
}

// Platform is the OS-specific capability set, selected once at startup.
// Implementations: POSIX (ps/lsof/signals) and Windows (PowerShell/netstat/taskkill).
type Platform interface {
	// Source names the snapshot source this platform produces.
	Source() InventorySource

	// Collect lists all processes. Tool failures are reported in the result, never as errors.
	Collect(ctx context.Context) SnapshotResult

	// ResolvePortPID returns the pid listening on port, if any.
	ResolvePortPID(ctx context.Context, port int) (int, bool)

	// Terminate stops the process (and its tree where the OS supports it).
	Terminate(ctx context.Context, pid int) StopResult
}

// CollectOptions overrides what a snapshot collector reads.
type CollectOptions struct {
	// Processes, when non-nil, is used verbatim instead of querying the OS.
	Processes []RawProcess
	// Platform replaces the collector's platform for this call.
	Platform Platform
}

// SnapshotCollector produces normalized process snapshots.
type SnapshotCollector interface {
	// Collect never fails; tool failures come back as OK=false with no records.
	Collect(ctx context.Context, opts CollectOptions) SnapshotResult
}

// ProcessControl is the substitutable set of OS operations the planner,
// executor and runtime service depend on.
type ProcessControl interface {
	// StopProcessTree terminates pid. The result reports tool success only.
	StopProcessTree(ctx context.Context, pid int) StopResult

	// IsProcessAlive checks liveness.
	IsProcessAlive(pid int) bool

	// FindListeningPIDByPort returns the pid listening on port, if any.
	FindListeningPIDByPort(ctx context.Context, port int) (int, bool)
}

// RuntimeStateStore persists the single active runtime record.
type RuntimeStateStore interface {
	// Read loads and normalizes the record. Returns nil, nil when absent.
	Read() (*RuntimeState, error)

	// Write normalizes and persists the record wholesale.
	Write(state RuntimeState) (*RuntimeState, error)

	// Clear deletes the record. Already absent is success.
	Clear() error

	// Path returns the record file path.
	Path() string
}

// TrackedPIDSource reports pids recorded in the tool's own state files.
type TrackedPIDSource interface {
	TrackedPIDs() []int
}

// StateCleaner removes the tool's persisted runtime state files.
type StateCleaner interface {
	// ClearRuntimeState deletes the runtime and companion records, plus the
	// companion session metadata when includeSession is set. Returns removed paths.
	ClearRuntimeState(includeSession bool) ([]string, error)
}

// ReclaimJournal records executed reclaim runs.
// Implementation: SQLCipher encrypted database in the workspace state directory.
type ReclaimJournal interface {
	// Record stores one executed run.
	Record(ctx context.Context, plan *ReclaimPlan, result *ReclaimResult) (string, error)

	// Recent returns the newest entries first.
	Recent(ctx context.Context, limit int) ([]JournalEntry, error)

	// Close releases the database connection.
	Close() error
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
