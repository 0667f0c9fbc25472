// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Scope is the blast radius of a reclaim operation.
type Scope string

const (
	// ScopeRepoStudio targets only the tool's own processes.
	ScopeRepoStudio Scope = "repo-studio"
	// ScopeRepo additionally targets any process rooted under the workspace.
	ScopeRepo Scope = "repo"
)

// InventorySource identifies where a process snapshot came from.
type InventorySource string

const (
	SourceWindows  InventorySource = "windows"
	SourcePosix    InventorySource = "posix"
	SourceProvided InventorySource = "provided"
)

// ReclaimAction is what the executor will do (or would do) with a target.
type ReclaimAction string

const (
	ActionWouldKill ReclaimAction = "would-kill"
	ActionKill      ReclaimAction = "kill"
)

// ReclaimReason explains why a process became a target.
type ReclaimReason string

const (
	ReasonRepoStudio     ReclaimReason = "repo-studio"
	ReasonRuntimeProcess ReclaimReason = "repo-runtime-process"
	ReasonKnownPort      ReclaimReason = "repo-known-port"
)

// SkipReason explains why a matching process is not a target.
type SkipReason string

const (
	SkipProtectedPID          SkipReason = "protected-pid"
	SkipKnownPortNotRepoOwned SkipReason = "known-port-not-repo-owned"
)

// RawProcess is one row of an OS process listing before any ownership analysis.
type RawProcess struct {
	PID         int    `json:"pid"`
	ParentPID   int    `json:"parentPid"`
	Name        string `json:"name"`
	CommandLine string `json:"commandLine"`
}

// SnapshotResult is the outcome of a process listing. Tool failures are data, not errors.
type SnapshotResult struct {
	OK      bool            `json:"ok"`
	Records []RawProcess    `json:"records"`
	Stderr  string          `json:"stderr,omitempty"`
	Stdout  string          `json:"stdout,omitempty"`
	Source  InventorySource `json:"source"`
}

// ProcessRecord is a process annotated with workspace ownership and listening ports.
type ProcessRecord struct {
	PID             int    `json:"pid"`
	ParentPID       int    `json:"parentPid"`
	Name            string `json:"name"`
	CommandLine     string `json:"commandLine"`
	RepoOwned       bool   `json:"repoOwned"`
	RepoStudioOwned bool   `json:"repoStudioOwned"`
	KnownPorts      []int  `json:"knownPorts"`
}

// ProcessInventory is a normalized snapshot relative to a workspace root.
// Processes are sorted by PID and unique by PID.
type ProcessInventory struct {
	OK        bool            `json:"ok"`
	RepoRoot  string          `json:"repoRoot"`
	Source    InventorySource `json:"source"`
	Error     string          `json:"error,omitempty"`
	Processes []ProcessRecord `json:"processes"`
}

// ReclaimTarget is a process the executor will terminate.
type ReclaimTarget struct {
	ProcessRecord
	Action ReclaimAction `json:"action"`
	Reason string        `json:"reason"`
}

// SkippedProcess is a process deliberately left alone, kept for visibility.
type SkippedProcess struct {
	ProcessRecord
	Reason SkipReason `json:"reason"`
}

// ReclaimPlan is the full, side-effect free decision for one reclaim invocation.
type ReclaimPlan struct {
	Scope         Scope            `json:"scope"`
	Force         bool             `json:"force"`
	DryRun        bool             `json:"dryRun"`
	RepoRoot      string           `json:"repoRoot"`
	KnownPorts    []int            `json:"knownPorts"`
	SafePorts     []int            `json:"safePorts"`
	Inventory     ProcessInventory `json:"inventory"`
	TrackedPIDs   []int            `json:"trackedPids"`
	ProtectedPIDs []int            `json:"protectedPids"`
	Targets       []ReclaimTarget  `json:"targets"`
	Skipped       []SkippedProcess `json:"skipped"`
}

// StopResult is the outcome of a single termination attempt.
type StopResult struct {
	OK     bool   `json:"ok"`
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
}

// StoppedProcess is a target confirmed dead after termination.
type StoppedProcess struct {
	PID    int    `json:"pid"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// FailedProcess is a target that could not be confirmed dead.
type FailedProcess struct {
	PID    int    `json:"pid"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
	Alive  bool   `json:"alive"`
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
}

// ReclaimResult captures what happened during a single executor run.
type ReclaimResult struct {
	OK           bool             `json:"ok"`
	DryRun       bool             `json:"dryRun"`
	Stopped      []StoppedProcess `json:"stopped"`
	Failed       []FailedProcess  `json:"failed"`
	ClearedState bool             `json:"clearedState"`
	ClearedFiles []string         `json:"clearedFiles,omitempty"`
	Message      string           `json:"message"`
	ExecutedAt   time.Time        `json:"executedAt"`
	DurationMs   int64            `json:"durationMs"`
}

// RuntimeMode selects which liveness check applies to a runtime record.
type RuntimeMode string

const (
	ModeApp     RuntimeMode = "app"
	ModePackage RuntimeMode = "package"
	ModeDesktop RuntimeMode = "desktop"
)

// DesktopRuntime is the desktop-only part of a runtime record.
type DesktopRuntime struct {
	AppPort     int             `json:"appPort"`
	ServerPID   int             `json:"serverPid"`
	ElectronPID int             `json:"electronPid"`
	ServerMode  string          `json:"serverMode,omitempty"`
	Watcher     json.RawMessage `json:"watcher,omitempty"`
	SQLite      json.RawMessage `json:"sqlite,omitempty"`
}

// RuntimeState is the single persisted "active runtime" record.
// Desktop is set iff Mode is ModeDesktop. URL is derived and never persisted.
type RuntimeState struct {
	PID           int             `json:"pid"`
	Port          int             `json:"port"`
	Mode          RuntimeMode     `json:"mode"`
	StartedAt     string          `json:"startedAt"`
	WorkspaceRoot string          `json:"workspaceRoot"`
	View          string          `json:"view,omitempty"`
	Profile       string          `json:"profile,omitempty"`
	Desktop       *DesktopRuntime `json:"desktop,omitempty"`
	URL           string          `json:"-"`
}

// ServedPort is the port a browser should use: the desktop app port when set,
// otherwise Port.
func (s RuntimeState) ServedPort() int {
	if s.Mode == ModeDesktop && s.Desktop != nil && s.Desktop.AppPort > 0 {
		return s.Desktop.AppPort
	}
	return s.Port
}

// LocalURL is the loopback URL of the runtime.
func (s RuntimeState) LocalURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.ServedPort())
}

// HealthDetails holds the individual probes behind a health verdict.
type HealthDetails struct {
	PIDAlive      bool `json:"pidAlive,omitempty"`
	PortPID       int  `json:"portPid,omitempty"`
	PortOwned     bool `json:"portOwned,omitempty"`
	ElectronAlive bool `json:"electronAlive,omitempty"`
	ServerAlive   bool `json:"serverAlive,omitempty"`
	PortListening bool `json:"portListening,omitempty"`
}

// RuntimeHealth is the liveness verdict for a runtime record.
type RuntimeHealth struct {
	Running bool          `json:"running"`
	Details HealthDetails `json:"details"`
}

// ActiveRuntime is the result of loading the persisted runtime and checking it.
type ActiveRuntime struct {
	Running bool          `json:"running"`
	Stale   bool          `json:"stale"`
	State   *RuntimeState `json:"state"`
	Health  RuntimeHealth `json:"health"`
}

// CompanionRuntime is the companion agent's runtime record. Read-only here.
type CompanionRuntime struct {
	PID       int    `json:"pid"`
	WSURL     string `json:"wsUrl"`
	Port      int    `json:"port"`
	StartedAt string `json:"startedAt"`
}

// JournalEntry is one recorded reclaim execution.
type JournalEntry struct {
	RunID      string          `json:"runId"`
	Scope      Scope           `json:"scope"`
	ExecutedAt time.Time       `json:"executedAt"`
	OK         bool            `json:"ok"`
	Message    string          `json:"message"`
	Targets    []JournalTarget `json:"targets"`
}

// JournalTarget is a per-pid outcome in a journal entry.
type JournalTarget struct {
	PID     int    `json:"pid"`
	Name    string `json:"name"`
	Reason  string `json:"reason"`
	Outcome string `json:"outcome"` // "stopped" or "failed"
}
