package infra

import (
	"context"
	"math"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/config"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
)

// NewPlatform selects the platform implementation for goos.
// Call once at startup with runtime.GOOS; tests pass an explicit name.
func NewPlatform(goos string, runner CommandRunner, pm domain.ProcessManager, cfg config.Config, logger *zap.Logger) domain.Platform {
	if goos == "windows" {
		return NewWindowsPlatform(runner, logger)
	}
	return NewPosixPlatform(runner, pm, cfg.TermGrace(), cfg.PollInterval(), logger)
}

// NewHostPlatform selects the platform for the running OS.
func NewHostPlatform(runner CommandRunner, pm domain.ProcessManager, cfg config.Config, logger *zap.Logger) domain.Platform {
	return NewPlatform(runtime.GOOS, runner, pm, cfg, logger)
}

var (
	posixFourField  = regexp.MustCompile(`^\s*(\d+)\s+(\d+)\s+(\S+)\s*(.*)$`)
	posixThreeField = regexp.MustCompile(`^\s*(\d+)\s+(\S+)\s*(.*)$`)
	posixHead       = regexp.MustCompile(`^\s*(\d+)\s+(\d+)\s+(.*)$`)
	posixNameLine   = regexp.MustCompile(`^\s*(\d+)\s+(.*\S)\s*$`)
)

// ParsePosixSnapshot parses `pid ppid comm args...` lines. Lines that only
// carry `pid comm args...` are accepted with ParentPID 0. Anything else is dropped.
func ParsePosixSnapshot(stdout string) []domain.RawProcess {
	return ParsePosixSnapshotWithNames(stdout, nil)
}

// ParsePosixSnapshotWithNames is ParsePosixSnapshot with exact process names
// by pid (from ParsePosixNames), so a comm containing spaces is not split
// into the command line.
func ParsePosixSnapshotWithNames(stdout string, names map[int]string) []domain.RawProcess {
	var records []domain.RawProcess
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if rec, ok := splitKnownName(line, names); ok {
			records = append(records, rec)
			continue
		}

		if m := posixFourField.FindStringSubmatch(line); m != nil {
			pid, err := strconv.Atoi(m[1])
			if err != nil || pid <= 0 {
				continue
			}
			ppid, _ := strconv.Atoi(m[2])
			records = append(records, domain.RawProcess{
				PID:         pid,
				ParentPID:   ppid,
				Name:        m[3],
				CommandLine: strings.TrimSpace(m[4]),
			})
			continue
		}

		if m := posixThreeField.FindStringSubmatch(line); m != nil {
			pid, err := strconv.Atoi(m[1])
			if err != nil || pid <= 0 {
				continue
			}
			records = append(records, domain.RawProcess{
				PID:         pid,
				Name:        m[2],
				CommandLine: strings.TrimSpace(m[3]),
			})
		}
	}
	return records
}

func splitKnownName(line string, names map[int]string) (domain.RawProcess, bool) {
	if len(names) == 0 {
		return domain.RawProcess{}, false
	}
	m := posixHead.FindStringSubmatch(line)
	if m == nil {
		return domain.RawProcess{}, false
	}
	pid, err := strconv.Atoi(m[1])
	if err != nil || pid <= 0 {
		return domain.RawProcess{}, false
	}
	name, rest := names[pid], m[3]
	if name == "" || !strings.HasPrefix(rest, name) {
		return domain.RawProcess{}, false
	}
	tail := rest[len(name):]
	if tail != "" && tail[0] != ' ' && tail[0] != '\t' {
		return domain.RawProcess{}, false
	}
	ppid, _ := strconv.Atoi(m[2])
	return domain.RawProcess{
		PID:         pid,
		ParentPID:   ppid,
		Name:        name,
		CommandLine: strings.TrimSpace(tail),
	}, true
}

// ParsePosixNames parses `pid comm` lines where comm runs to the end of the line.
func ParsePosixNames(stdout string) map[int]string {
	names := make(map[int]string)
	for _, line := range strings.Split(stdout, "\n") {
		m := posixNameLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		pid, err := strconv.Atoi(m[1])
		if err != nil || pid <= 0 {
			continue
		}
		names[pid] = m[2]
	}
	return names
}

// ParseWindowsSnapshot parses ConvertTo-Json output of Win32_Process rows.
// PowerShell emits a bare object instead of an array for a single row; both are accepted.
func ParseWindowsSnapshot(stdout string) []domain.RawProcess {
	trimmed := strings.TrimSpace(strings.TrimPrefix(stdout, "\ufeff"))
	if trimmed == "" || !gjson.Valid(trimmed) {
		return nil
	}

	doc := gjson.Parse(trimmed)
	var rows []gjson.Result
	switch {
	case doc.IsArray():
		rows = doc.Array()
	case doc.IsObject():
		rows = []gjson.Result{doc}
	default:
		return nil
	}

	records := make([]domain.RawProcess, 0, len(rows))
	for _, row := range rows {
		pid, ok := positiveInt(row.Get("ProcessId"))
		if !ok {
			continue
		}
		ppid, _ := positiveInt(row.Get("ParentProcessId"))
		records = append(records, domain.RawProcess{
			PID:         pid,
			ParentPID:   ppid,
			Name:        row.Get("Name").String(),
			CommandLine: row.Get("CommandLine").String(),
		})
	}
	return records
}

func positiveInt(v gjson.Result) (int, bool) {
	switch v.Type {
	case gjson.Number:
		if v.Num <= 0 || v.Num != math.Trunc(v.Num) {
			return 0, false
		}
		return int(v.Num), true
	case gjson.String:
		n, err := strconv.Atoi(strings.TrimSpace(v.Str))
		if err != nil || n <= 0 {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// ParseNetstatListeningPID finds the pid of a LISTENING row whose local
// address ends in :port. The pid is the last column.
func ParseNetstatListeningPID(stdout string, port int) (int, bool) {
	suffix := ":" + strconv.Itoa(port)
	for _, line := range strings.Split(stdout, "\n") {
		if !strings.Contains(line, "LISTENING") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasSuffix(fields[1], suffix) {
			continue
		}
		pid, err := strconv.Atoi(fields[len(fields)-1])
		if err == nil && pid > 0 {
			return pid, true
		}
	}
	return 0, false
}

// waitForExit polls alive every poll until pid is gone or grace elapses.
func waitForExit(ctx context.Context, alive func(int) bool, pid int, grace, poll time.Duration) bool {
	deadline := time.Now().Add(grace)
	for {
		if !alive(pid) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return !alive(pid)
		case <-timer.C:
		}
	}
}
