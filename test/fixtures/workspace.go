//go:build !windows

// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// Workspace is a throwaway workspace root with a state directory.
type Workspace struct {
	Root     string
	StateDir string
}

// NewWorkspace lays out apps/repo-studio and .repo-studio under dir.
func NewWorkspace(dir string) (*Workspace, error) {
	root, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, err
	}
	w := &Workspace{Root: root, StateDir: filepath.Join(root, ".repo-studio")}
	for _, p := range []string{w.StateDir, filepath.Join(root, "apps", "repo-studio")} {
		if err := os.MkdirAll(p, 0755); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// WriteState writes v as JSON to a file in the state directory.
func (w *Workspace) WriteState(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(w.StateDir, name), append(data, '\n'), 0644)
}

// StateExists reports whether a state file is present.
func (w *Workspace) StateExists(name string) bool {
	_, err := os.Stat(filepath.Join(w.StateDir, name))
	return err == nil
}

// Sleeper is a long-running shell whose argv names a script path, so it
// shows up in `ps` as if it ran that script.
type Sleeper struct {
	PID  int
	cmd  *exec.Cmd
	done chan struct{}
}

// SpawnSleeper starts `sh -c 'sleep 300; :' sleeper <script>`. The compound
// command keeps sh alive instead of exec-ing sleep.
func SpawnSleeper(script string) (*Sleeper, error) {
	cmd := exec.Command("sh", "-c", "sleep 300; :", "sleeper", script)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start sleeper: %w", err)
	}
	s := &Sleeper{PID: cmd.Process.Pid, cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(s.done)
	}()
	return s, nil
}

// Exited waits up to timeout for the sleeper to be reaped.
func (s *Sleeper) Exited(timeout time.Duration) bool {
	select {
	case <-s.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Kill stops the whole process group, including the inner sleep.
func (s *Sleeper) Kill() {
	_ = syscall.Kill(-s.PID, syscall.SIGKILL)
	s.Exited(2 * time.Second)
}
