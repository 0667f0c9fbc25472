// Package main is the CLI entry point for repostudio.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

// errFailed makes the process exit 1 after the command already printed its outcome.
var errFailed = errors.New("command failed")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "repostudio",
	Short: "Workspace process inventory, reclaim and runtime control",
	Long: `repostudio finds processes that belong to a workspace, stops stray ones
without touching unrelated work, and tracks the single active runtime
(app, package or desktop) recorded in .repo-studio/runtime.json.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var processesCmd = &cobra.Command{
	Use:   "processes",
	Short: "List workspace processes and what reclaim would stop",
	Long: `Builds a dry-run reclaim plan and prints the inventory, the targets that
reclaim would stop and the processes it would leave alone. Never stops anything.`,
	Args: cobra.NoArgs,
	RunE: runProcesses,
}

var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Stop stray workspace processes",
	Long: `Plans and executes a reclaim. The default scope (repo-studio) only touches
this tool's own servers. --scope repo widens it to every runtime process rooted
under the workspace and requires --force unless --dry-run is given.`,
	Args: cobra.NoArgs,
	RunE: runReclaim,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active runtime",
	Long:  `Checks the recorded runtime, clears it when stale, and falls back to port detection.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the recorded runtime",
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent reclaim runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	workspaceDir string
	verbose      bool

	scopeFlag    string
	jsonOutput   bool
	plainOutput  bool
	dryRun       bool
	force        bool
	excludePIDs  []int
	clearSession bool
	modeFlag     string
	historyLimit int
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "w", "", "Workspace root (default: current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	for _, c := range []*cobra.Command{processesCmd, reclaimCmd} {
		c.Flags().StringVar(&scopeFlag, "scope", string(domain.ScopeRepoStudio), "Reclaim scope: repo-studio or repo")
		c.Flags().IntSliceVar(&excludePIDs, "exclude-pid", nil, "Never stop this pid (repeatable)")
		c.Flags().BoolVar(&plainOutput, "plain", false, "Tab-separated rows without headings")
	}
	reclaimCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan only, stop nothing")
	reclaimCmd.Flags().BoolVar(&force, "force", false, "Allow --scope repo to stop processes")
	reclaimCmd.Flags().BoolVar(&clearSession, "clear-session", false, "Also clear the companion session metadata")

	stopCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be stopped")
	statusCmd.Flags().StringVar(&modeFlag, "mode", "", "Runtime mode to detect when nothing is recorded (app, package, desktop)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Number of runs to show")

	for _, c := range []*cobra.Command{processesCmd, reclaimCmd, statusCmd, stopCmd, historyCmd, versionCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
		rootCmd.AddCommand(c)
	}
}

func runProcesses(cmd *cobra.Command, args []string) error {
	a, err := newApp(workspaceDir, verbose)
	if err != nil {
		return err
	}
	defer a.Close()

	plan, err := a.reclaim.Preview(cmd.Context(), usecase.ReclaimRequest{
		Scope:       scopeFlag,
		RepoRoot:    a.layout.WorkspaceRoot,
		ExcludePIDs: excludePIDs,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case jsonOutput:
		return writeJSON(out, plan)
	case plainOutput:
		printPlanPlain(out, plan)
	default:
		printPlan(out, plan, a.scopeName(plan.Scope))
	}
	return nil
}

func runReclaim(cmd *cobra.Command, args []string) error {
	a, err := newApp(workspaceDir, verbose)
	if err != nil {
		return err
	}
	defer a.Close()

	outcome, err := a.reclaim.Reclaim(cmd.Context(), usecase.ReclaimRequest{
		Scope:        scopeFlag,
		RepoRoot:     a.layout.WorkspaceRoot,
		DryRun:       dryRun,
		Force:        force,
		ClearSession: clearSession,
		ExcludePIDs:  excludePIDs,
	})
	if err != nil && outcome == nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case jsonOutput:
		if werr := writeJSON(out, outcome); werr != nil {
			return werr
		}
	case plainOutput:
		printReclaimPlain(out, outcome)
	default:
		printReclaim(out, outcome, a.scopeName)
	}

	if err != nil || !outcome.OK {
		return errFailed
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(workspaceDir, verbose)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.status(cmd.Context(), modeFlag)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	printStatus(cmd.OutOrStdout(), report)
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	a, err := newApp(workspaceDir, verbose)
	if err != nil {
		return err
	}
	defer a.Close()

	outcome, err := a.runtime.Stop(cmd.Context(), dryRun)
	if err != nil {
		return err
	}
	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), outcome); err != nil {
			return err
		}
	} else {
		printStop(cmd.OutOrStdout(), outcome)
	}
	if !outcome.OK {
		return errFailed
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp(workspaceDir, verbose)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.journal.Recent(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read reclaim history: %w", err)
	}
	if jsonOutput {
		if entries == nil {
			entries = []domain.JournalEntry{}
		}
		return writeJSON(cmd.OutOrStdout(), entries)
	}
	printHistory(cmd.OutOrStdout(), entries, a.cfg.Journal.Enabled)
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		_ = writeJSON(cmd.OutOrStdout(), map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "repostudio %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
}

// writeJSON pretty-prints v with a trailing newline.
func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
