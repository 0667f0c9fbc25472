package usecase

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/config"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
)

// PortResolver returns the pid listening on port, if any.
type PortResolver func(ctx context.Context, port int) (int, bool)

// InventoryRequest describes one inventory build.
type InventoryRequest struct {
	RepoRoot   string
	KnownPorts []int
	// PIDByPort overrides port resolution. Defaults to the request platform,
	// then the builder's process control.
	PIDByPort PortResolver
	Collect   domain.CollectOptions
}

// InventoryBuilder annotates a process snapshot with workspace ownership and listening ports.
type InventoryBuilder struct {
	collector domain.SnapshotCollector
	control   domain.ProcessControl
	markers   []string
	logger    *zap.Logger
}

// NewInventoryBuilder creates a builder. markers are paths relative to the
// workspace root that identify the tool's own processes.
func NewInventoryBuilder(
	collector domain.SnapshotCollector,
	control domain.ProcessControl,
	markers []string,
	logger *zap.Logger,
) *InventoryBuilder {
	return &InventoryBuilder{
		collector: collector,
		control:   control,
		markers:   append([]string(nil), markers...),
		logger:    logger,
	}
}

// Build collects and annotates processes. It never fails: a collection failure
// yields OK=false, Error set and no processes.
func (b *InventoryBuilder) Build(ctx context.Context, req InventoryRequest) domain.ProcessInventory {
	root := req.RepoRoot
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	snapshot := b.collector.Collect(ctx, req.Collect)
	inv := domain.ProcessInventory{
		OK:        snapshot.OK,
		RepoRoot:  root,
		Source:    snapshot.Source,
		Processes: []domain.ProcessRecord{},
	}
	if !snapshot.OK {
		inv.Error = strings.TrimSpace(snapshot.Stderr)
		if inv.Error == "" {
			inv.Error = "process snapshot failed"
		}
		return inv
	}

	portsByPID := b.resolvePorts(ctx, req)

	normRoot := normalizeForMatch(root)
	needles := make([]string, 0, len(b.markers))
	for _, m := range b.markers {
		needles = append(needles, normalizeForMatch(filepath.Join(root, m)))
	}

	for _, rec := range mergeByPID(snapshot.Records) {
		cmd := normalizeForMatch(rec.CommandLine)
		rec.RepoOwned = normRoot != "" && strings.Contains(cmd, normRoot)
		if rec.RepoOwned {
			for _, needle := range needles {
				if strings.Contains(cmd, needle) {
					rec.RepoStudioOwned = true
					break
				}
			}
		}
		if ports := portsByPID[rec.PID]; len(ports) > 0 {
			rec.KnownPorts = ports
		} else {
			rec.KnownPorts = []int{}
		}
		inv.Processes = append(inv.Processes, rec)
	}
	return inv
}

// resolvePorts maps pid to the sorted known ports it listens on. Unresolvable ports are skipped.
func (b *InventoryBuilder) resolvePorts(ctx context.Context, req InventoryRequest) map[int][]int {
	resolve := req.PIDByPort
	if resolve == nil && req.Collect.Platform != nil {
		resolve = req.Collect.Platform.ResolvePortPID
	}
	if resolve == nil {
		resolve = b.control.FindListeningPIDByPort
	}

	byPID := make(map[int][]int)
	for _, port := range config.SortedUnique(req.KnownPorts) {
		pid, ok := resolve(ctx, port)
		if !ok || pid <= 0 {
			b.logger.Debug("no listener on known port", zap.Int("port", port))
			continue
		}
		byPID[pid] = append(byPID[pid], port)
	}
	return byPID
}

// mergeByPID collapses duplicate pids keeping the longest command line and the
// first non-zero parent pid. The result is sorted by pid.
func mergeByPID(records []domain.RawProcess) []domain.ProcessRecord {
	byPID := make(map[int]*domain.ProcessRecord, len(records))
	for _, r := range records {
		if r.PID <= 0 {
			continue
		}
		existing, ok := byPID[r.PID]
		if !ok {
			byPID[r.PID] = &domain.ProcessRecord{
				PID:         r.PID,
				ParentPID:   r.ParentPID,
				Name:        r.Name,
				CommandLine: r.CommandLine,
			}
			continue
		}
		if len(r.CommandLine) > len(existing.CommandLine) {
			existing.CommandLine = r.CommandLine
		}
		if existing.ParentPID == 0 && r.ParentPID > 0 {
			existing.ParentPID = r.ParentPID
		}
		if existing.Name == "" {
			existing.Name = r.Name
		}
	}

	out := make([]domain.ProcessRecord, 0, len(byPID))
	for _, rec := range byPID {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// normalizeForMatch lower-cases and converts backslashes so Windows and POSIX
// paths compare the same way.
func normalizeForMatch(s string) string {
	n := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), `\`, "/"))
	if len(n) > 1 {
		n = strings.TrimSuffix(n, "/")
	}
	return n
}
