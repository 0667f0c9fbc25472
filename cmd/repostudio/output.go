package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/usecase"
)

const maxCommandWidth = 80

func printPlan(w io.Writer, plan *domain.ReclaimPlan, scopeName string) {
	fmt.Fprintf(w, "Workspace: %s\n", plan.RepoRoot)
	fmt.Fprintf(w, "Scope:     %s (%s)\n", plan.Scope, scopeName)
	fmt.Fprintf(w, "Ports:     %s\n", joinInts(plan.KnownPorts))
	if !plan.Inventory.OK {
		fmt.Fprintf(w, "Warning:   process snapshot failed: %s\n", plan.Inventory.Error)
	}

	owned := 0
	for _, p := range plan.Inventory.Processes {
		if p.RepoOwned {
			owned++
		}
	}
	fmt.Fprintf(w, "Processes: %s scanned, %d in workspace\n",
		humanize.Comma(int64(len(plan.Inventory.Processes))), owned)

	if len(plan.Targets) == 0 {
		fmt.Fprintln(w, "\nNothing to reclaim.")
	} else {
		fmt.Fprintf(w, "\n%s:\n", english.Plural(len(plan.Targets), "target", ""))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PID\tNAME\tPORTS\tREASON\tACTION\tCOMMAND")
		for _, t := range plan.Targets {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
				t.PID, t.Name, joinInts(t.KnownPorts), t.Reason, t.Action, truncate(t.CommandLine))
		}
		tw.Flush()
	}

	if len(plan.Skipped) > 0 {
		fmt.Fprintf(w, "\nLeft alone (%d):\n", len(plan.Skipped))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PID\tNAME\tPORTS\tREASON")
		for _, s := range plan.Skipped {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.PID, s.Name, joinInts(s.KnownPorts), s.Reason)
		}
		tw.Flush()
	}
}

// printPlanPlain writes one tab-separated row per target or skipped process.
func printPlanPlain(w io.Writer, plan *domain.ReclaimPlan) {
	for _, t := range plan.Targets {
		fmt.Fprintf(w, "target\t%d\t%s\t%s\t%s\n", t.PID, t.Name, t.Reason, t.Action)
	}
	for _, s := range plan.Skipped {
		fmt.Fprintf(w, "skipped\t%d\t%s\t%s\n", s.PID, s.Name, s.Reason)
	}
}

func printReclaim(w io.Writer, outcome *usecase.ReclaimOutcome, scopeName func(domain.Scope) string) {
	if outcome.Blocked {
		fmt.Fprintf(w, "Blocked: %s\n", outcome.Message)
		return
	}
	if outcome.Plan != nil && (outcome.Plan.DryRun || len(outcome.Plan.Targets) > 0) {
		printPlan(w, outcome.Plan, scopeName(outcome.Plan.Scope))
		fmt.Fprintln(w)
	}

	if r := outcome.Result; r != nil {
		for _, s := range r.Stopped {
			fmt.Fprintf(w, "  stopped %d %s (%s)\n", s.PID, s.Name, s.Reason)
		}
		for _, f := range r.Failed {
			detail := strings.TrimSpace(f.Stderr)
			if detail == "" && f.Alive {
				detail = "still alive"
			}
			fmt.Fprintf(w, "  FAILED  %d %s (%s) %s\n", f.PID, f.Name, f.Reason, detail)
		}
		for _, path := range r.ClearedFiles {
			fmt.Fprintf(w, "  removed %s\n", path)
		}
	}

	status := "OK"
	if !outcome.OK {
		status = "FAILED"
	}
	fmt.Fprintf(w, "%s: %s\n", status, outcome.Message)
}

func printReclaimPlain(w io.Writer, outcome *usecase.ReclaimOutcome) {
	if outcome.Plan != nil {
		printPlanPlain(w, outcome.Plan)
	}
	if r := outcome.Result; r != nil {
		for _, s := range r.Stopped {
			fmt.Fprintf(w, "stopped\t%d\t%s\t%s\n", s.PID, s.Name, s.Reason)
		}
		for _, f := range r.Failed {
			fmt.Fprintf(w, "failed\t%d\t%s\t%s\n", f.PID, f.Name, f.Reason)
		}
	}
	fmt.Fprintf(w, "result\t%t\t%s\n", outcome.OK, outcome.Message)
}

func printStatus(w io.Writer, report *statusReport) {
	fmt.Fprintf(w, "Workspace: %s\n", report.Workspace)
	if report.Cleared {
		fmt.Fprintln(w, "Cleared a stale runtime record.")
	}

	if !report.Running || report.State == nil {
		fmt.Fprintln(w, "Runtime:   NOT RUNNING")
	} else {
		st := report.State
		fmt.Fprintf(w, "Runtime:   RUNNING (%s, %s)\n", st.Mode, report.Source)
		fmt.Fprintf(w, "URL:       %s\n", report.URL)
		fmt.Fprintf(w, "PID:       %d\n", st.PID)
		if st.Desktop != nil {
			fmt.Fprintf(w, "Electron:  %d\n", st.Desktop.ElectronPID)
			fmt.Fprintf(w, "Server:    %d\n", st.Desktop.ServerPID)
		}
		if report.Source == usecase.LocatePersisted {
			fmt.Fprintf(w, "Started:   %s\n", startedAgo(st.StartedAt))
		}
		if st.View != "" {
			fmt.Fprintf(w, "View:      %s\n", st.View)
		}
		if st.Profile != "" {
			fmt.Fprintf(w, "Profile:   %s\n", st.Profile)
		}
	}

	if c := report.Companion; c != nil {
		fmt.Fprintf(w, "Companion: pid %d, port %d, %s\n", c.PID, c.Port, c.WSURL)
	}
}

func printStop(w io.Writer, outcome *usecase.StopOutcome) {
	if r := outcome.Result; r != nil {
		for _, s := range r.Stopped {
			fmt.Fprintf(w, "  stopped %d %s\n", s.PID, s.Name)
		}
		for _, f := range r.Failed {
			fmt.Fprintf(w, "  FAILED  %d %s %s\n", f.PID, f.Name, strings.TrimSpace(f.Stderr))
		}
	}
	status := "OK"
	if !outcome.OK {
		status = "FAILED"
	}
	fmt.Fprintf(w, "%s: %s\n", status, outcome.Message)
}

func printHistory(w io.Writer, entries []domain.JournalEntry, journalEnabled bool) {
	if !journalEnabled {
		fmt.Fprintln(w, "Reclaim journal is disabled (journal.enabled = false).")
		return
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No reclaim runs recorded.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tWHEN\tSCOPE\tOK\tTARGETS\tMESSAGE")
	for _, e := range entries {
		pids := make([]string, 0, len(e.Targets))
		for _, t := range e.Targets {
			pids = append(pids, fmt.Sprintf("%d:%s", t.PID, t.Outcome))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
			shortID(e.RunID), humanize.Time(e.ExecutedAt), e.Scope, e.OK, strings.Join(pids, ","), e.Message)
	}
	tw.Flush()
}

func joinInts(values []int) string {
	if len(values) == 0 {
		return "-"
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func truncate(s string) string {
	if len(s) <= maxCommandWidth {
		return s
	}
	return s[:maxCommandWidth-3] + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
