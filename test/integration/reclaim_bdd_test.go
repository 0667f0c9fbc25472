//go:build integration && !windows

package integration

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/config"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/infra"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/policy"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/usecase"
	"github.com/MagicbornStudios/forge-agent-sub001/test/fixtures"
)

var _ = Describe("Reclaim", func() {
	var (
		ctx       context.Context
		ws        *fixtures.Workspace
		layout    *infra.Layout
		studio    *fixtures.Sleeper
		foreign   *fixtures.Sleeper
		journal   domain.ReclaimJournal
		reclaimer *usecase.ReclaimService
		runtime   *usecase.RuntimeService
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		ws, err = fixtures.NewWorkspace(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		layout, err = infra.NewLayout(ws.Root)
		Expect(err).NotTo(HaveOccurred())

		studio, err = fixtures.SpawnSleeper(filepath.Join(ws.Root, "apps", "repo-studio", "server.js"))
		Expect(err).NotTo(HaveOccurred())
		foreign, err = fixtures.SpawnSleeper(filepath.Join(GinkgoT().TempDir(), "elsewhere", "server.js"))
		Expect(err).NotTo(HaveOccurred())

		Expect(ws.WriteState("runtime.json", map[string]any{
			"pid":           studio.PID,
			"port":          3020,
			"mode":          "package",
			"startedAt":     time.Now().UTC().Format(time.RFC3339),
			"workspaceRoot": ws.Root,
		})).To(Succeed())

		cfg := config.DefaultConfig()
		cfg.Reclaim.TermGraceMS = 500
		logger := zap.NewNop()

		pm := infra.NewProcessManager()
		platform := infra.NewHostPlatform(infra.NewExecCommandRunner(cfg.CommandTimeout()), pm, cfg, logger)
		control := infra.NewProcessControl(platform, pm)
		store := infra.NewFileRuntimeStore(layout, cfg)
		state := infra.NewStateFiles(layout, store, logger)
		journal, err = infra.OpenJournal(layout, cfg, logger)
		Expect(err).NotTo(HaveOccurred())

		inventory := usecase.NewInventoryBuilder(infra.NewCollector(platform, logger), control, cfg.Reclaim.StudioMarkers, logger)
		planner := usecase.NewPlanner(cfg, policy.NewRegistry(cfg), inventory, state, pm, logger)
		executor := usecase.NewExecutor(control, state, journal, logger)
		reclaimer = usecase.NewReclaimService(planner, executor, logger)
		runtime = usecase.NewRuntimeService(store, control, executor, pm, cfg, logger)
	})

	AfterEach(func() {
		studio.Kill()
		foreign.Kill()
		Expect(journal.Close()).To(Succeed())
	})

	Describe("Preview", func() {
		It("should target the tracked studio process and leave the foreign one alone", func() {
			plan, err := reclaimer.Preview(ctx, usecase.ReclaimRequest{RepoRoot: ws.Root})
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.Inventory.OK).To(BeTrue())
			Expect(plan.TrackedPIDs).To(ContainElement(studio.PID))

			var pids []int
			for _, t := range plan.Targets {
				pids = append(pids, t.PID)
				Expect(t.Action).To(Equal(domain.ActionWouldKill))
			}
			Expect(pids).To(ContainElement(studio.PID))
			Expect(pids).NotTo(ContainElement(foreign.PID))
			Expect(studio.Exited(100 * time.Millisecond)).To(BeFalse())
		})
	})

	Describe("Reclaim", func() {
		Context("with the default scope", func() {
			It("should stop the studio process, clear state and journal the run", func() {
				outcome, err := reclaimer.Reclaim(ctx, usecase.ReclaimRequest{RepoRoot: ws.Root})
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.OK).To(BeTrue(), outcome.Message)
				Expect(outcome.Result.ClearedState).To(BeTrue())

				Expect(studio.Exited(5 * time.Second)).To(BeTrue())
				Expect(foreign.Exited(100 * time.Millisecond)).To(BeFalse())
				Expect(ws.StateExists("runtime.json")).To(BeFalse())

				entries, err := journal.Recent(ctx, 5)
				Expect(err).NotTo(HaveOccurred())
				Expect(entries).To(HaveLen(1))
				Expect(entries[0].Scope).To(Equal(domain.ScopeRepoStudio))
				Expect(entries[0].Targets).NotTo(BeEmpty())
			})
		})

		Context("with the repo scope and no --force", func() {
			It("should refuse without touching anything", func() {
				outcome, err := reclaimer.Reclaim(ctx, usecase.ReclaimRequest{Scope: "repo", RepoRoot: ws.Root})
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Blocked).To(BeTrue())
				Expect(outcome.OK).To(BeFalse())
				Expect(studio.Exited(100 * time.Millisecond)).To(BeFalse())
				Expect(ws.StateExists("runtime.json")).To(BeTrue())
			})
		})

		Context("when the studio pid is excluded", func() {
			It("should skip it as protected", func() {
				outcome, err := reclaimer.Reclaim(ctx, usecase.ReclaimRequest{
					RepoRoot:    ws.Root,
					ExcludePIDs: []int{studio.PID},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.OK).To(BeTrue())
				Expect(studio.Exited(100 * time.Millisecond)).To(BeFalse())

				var skipped []int
				for _, s := range outcome.Plan.Skipped {
					if s.Reason == domain.SkipProtectedPID {
						skipped = append(skipped, s.PID)
					}
				}
				Expect(skipped).To(ContainElement(studio.PID))
			})
		})
	})

	Describe("Runtime", func() {
		It("should report a record whose pid does not own its port as stale and clear it", func() {
			active, err := runtime.LoadActive(ctx, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(active.Running).To(BeFalse())
			Expect(active.Stale).To(BeTrue())
			Expect(active.Health.Details.PIDAlive).To(BeTrue())
			Expect(ws.StateExists("runtime.json")).To(BeFalse())
		})

		It("should clear a stale record on stop without killing its pid", func() {
			outcome, err := runtime.Stop(ctx, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.OK).To(BeTrue())
			Expect(outcome.Result).To(BeNil())
			Expect(studio.Exited(300 * time.Millisecond)).To(BeFalse())
			Expect(ws.StateExists("runtime.json")).To(BeFalse())
		})

		It("should stop a live desktop runtime", func() {
			Expect(ws.WriteState("runtime.json", map[string]any{
				"pid":           0,
				"port":          3030,
				"mode":          "desktop",
				"workspaceRoot": ws.Root,
				"desktop":       map[string]any{"appPort": 3030, "electronPid": studio.PID},
			})).To(Succeed())

			outcome, err := runtime.Stop(ctx, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.OK).To(BeTrue(), outcome.Message)
			Expect(studio.Exited(5 * time.Second)).To(BeTrue())
			Expect(foreign.Exited(100 * time.Millisecond)).To(BeFalse())
			Expect(ws.StateExists("runtime.json")).To(BeFalse())
		})
	})
})
