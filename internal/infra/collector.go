package infra

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
)

// Collector produces normalized process snapshots.
type Collector struct {
	platform domain.Platform
	logger   *zap.Logger
}

// NewCollector creates a collector backed by platform.
func NewCollector(platform domain.Platform, logger *zap.Logger) *Collector {
	return &Collector{platform: platform, logger: logger}
}

// Collect returns a snapshot. It never returns an error: tool failures come
// back as OK=false with the captured output and no records.
func (c *Collector) Collect(ctx context.Context, opts domain.CollectOptions) domain.SnapshotResult {
	if opts.Processes != nil {
		return domain.SnapshotResult{
			OK:      true,
			Records: NormalizeRawProcesses(opts.Processes),
			Source:  domain.SourceProvided,
		}
	}

	platform := opts.Platform
	if platform == nil {
		platform = c.platform
	}

	res := platform.Collect(ctx)
	if !res.OK {
		c.logger.Warn("process snapshot failed",
			zap.String("source", string(res.Source)),
			zap.String("stderr", res.Stderr))
		res.Records = []domain.RawProcess{}
		return res
	}
	res.Records = NormalizeRawProcesses(res.Records)
	c.logger.Debug("process snapshot collected",
		zap.String("source", string(res.Source)),
		zap.Int("count", len(res.Records)))
	return res
}

// NormalizeRawProcesses drops rows without a positive pid and trims text fields.
func NormalizeRawProcesses(in []domain.RawProcess) []domain.RawProcess {
	out := make([]domain.RawProcess, 0, len(in))
	for _, p := range in {
		if p.PID <= 0 {
			continue
		}
		ppid := p.ParentPID
		if ppid < 0 {
			ppid = 0
		}
		out = append(out, domain.RawProcess{
			PID:         p.PID,
			ParentPID:   ppid,
			Name:        strings.TrimSpace(p.Name),
			CommandLine: strings.TrimSpace(p.CommandLine),
		})
	}
	return out
}

// Ensure Collector implements domain.SnapshotCollector.
var _ domain.SnapshotCollector = (*Collector)(nil)
