// Command scuc runs the distributed security-constrained unit-commitment
// coordinator: it loads an instance, partitions it into zones, builds one
// ADMM subproblem per zone, and drives them to consensus over an
// in-process communicator, emitting a summary line per spec.md §7.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/scucgrid/scuc/internal/admm"
	"github.com/scucgrid/scuc/internal/config"
	"github.com/scucgrid/scuc/internal/graphmodel"
	"github.com/scucgrid/scuc/internal/iocsv"
	"github.com/scucgrid/scuc/internal/partition"
	"github.com/scucgrid/scuc/internal/powermodel"
	"github.com/scucgrid/scuc/internal/runtime"
	"github.com/scucgrid/scuc/internal/sensitivity"
	"github.com/scucgrid/scuc/internal/solver"
	"github.com/scucgrid/scuc/internal/subproblem"
	"github.com/scucgrid/scuc/internal/telemetry"
	"github.com/scucgrid/scuc/internal/ucmodel"
	"github.com/scucgrid/scuc/internal/zone"
)

var (
	flagConfigPath   string
	flagMetricsAddr  string
	flagFormat       string
	flagSolutionPath string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scuc algorithm instance demand_scale limit_scale [careful]",
		Short: "Distributed security-constrained unit commitment coordinator",
		Args:  cobra.RangeArgs(4, 5),
		RunE:  runRoot,
	}
	cmd.Flags().StringVar(&flagConfigPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty keeps the config's metrics_addr; none by default)")
	cmd.Flags().StringVar(&flagFormat, "format", "json", "log format: json|text")
	cmd.Flags().StringVar(&flagSolutionPath, "solution", "", "path to append the per-variant solution CSV to (empty keeps the config's solution_path, solution.csv by default)")
	return cmd
}

func runRoot(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if flagConfigPath != "" {
		loaded, err := config.Load(flagConfigPath)
		if err != nil {
			return fmt.Errorf("scuc: loading config: %w", err)
		}
		cfg = loaded
	}

	cfg.Algorithm = config.Algorithm(args[0])
	cfg.InstanceDir = args[1]
	if _, err := fmt.Sscanf(args[2], "%f", &cfg.DemandScale); err != nil {
		return fmt.Errorf("scuc: demand_scale: %w", err)
	}
	if _, err := fmt.Sscanf(args[3], "%f", &cfg.LimitScale); err != nil {
		return fmt.Errorf("scuc: limit_scale: %w", err)
	}
	if len(args) == 5 {
		cfg.Careful = args[4] == "true" || args[4] == "1"
	}
	if flagFormat != "" {
		cfg.LogFormat = flagFormat
	}
	if flagMetricsAddr != "" {
		cfg.MetricsAddr = flagMetricsAddr
	}
	if flagSolutionPath != "" {
		cfg.SolutionPath = flagSolutionPath
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("scuc: %w", err)
	}

	logFormat := telemetry.LogFormatJSON
	if cfg.LogFormat == "text" {
		logFormat = telemetry.LogFormatText
	}
	log, runID := telemetry.NewLogger(telemetry.LoggerConfig{
		Level: cfg.LogLevel, Format: logFormat, Output: os.Stderr,
	})
	log = log.With().Str("run", runID).Logger()

	var metricsReg *prometheus.Registry
	if cfg.MetricsAddr != "" {
		metricsReg = prometheus.NewRegistry()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	name := filepath.Base(cfg.InstanceDir)
	inst, err := iocsv.ReadInstance(cfg.InstanceDir, name)
	if err != nil {
		log.Error().Err(err).Str("dir", cfg.InstanceDir).Msg("failed to read instance")
		return err
	}
	inst = scaleInstance(inst, cfg.DemandScale, cfg.LimitScale)

	log.Info().
		Str("algorithm", string(cfg.Algorithm)).
		Int("buses", inst.BusCount()).
		Int("lines", inst.LineCount()).
		Int("generators", len(inst.Generators)).
		Msg("instance loaded")

	result, err := run(cmd.Context(), inst, cfg, log, metricsReg)
	if err != nil {
		log.Error().Err(err).Msg("run failed")
		return err
	}

	fmt.Println(summaryLine(name, cfg, result))
	return nil
}

// scaleInstance returns a copy of inst with every bus's demand series
// scaled by demandScale and every line's flow limits scaled by limitScale,
// per the CLI's positional demand_scale/limit_scale arguments (spec.md §6).
func scaleInstance(inst *powermodel.UnitCommitmentInstance, demandScale, limitScale float64) *powermodel.UnitCommitmentInstance {
	buses := make([]powermodel.Bus, len(inst.Buses))
	for i, b := range inst.Buses {
		d := make([]float64, len(b.Demand))
		for t, v := range b.Demand {
			d[t] = v * demandScale
		}
		buses[i] = powermodel.Bus{Index: b.Index, Demand: d, Zone: b.Zone}
	}
	lines := make([]powermodel.TransmissionLine, len(inst.Lines))
	for i, l := range inst.Lines {
		nl := l
		nl.NormalCapacity *= limitScale
		nl.EmergencyCapacity *= limitScale
		lines[i] = nl
	}
	out, err := powermodel.NewInstance(inst.Name, buses, lines, inst.Generators)
	if err != nil {
		// Scaling never changes index density or referential integrity,
		// so construction cannot fail here; fall back to the unscaled
		// instance rather than panic on an unreachable branch.
		return inst
	}
	return out
}

// run partitions inst into zones (per cfg.Partition), precomputes each
// zone's link_base matrix against the shared sensitivity kernel, builds one
// ADMM subproblem per zone, and drives every zone's worker to consensus
// over an in-process runtime.LocalRuntime standing in for the MPI-like
// runtime spec.md §6 names. When cfg.Algorithm.Security() is true, it also
// builds a contingency screening.Screener per zone (link_outage matrices
// included) and wires it as each worker's ScreeningHook, per spec.md §4.6;
// tcuc-* runs leave Screen nil and perform an identical computation to the
// non-security case, as spec.md §6's CLI contract requires. The aggregated
// Result takes the objective every worker already holds (admm.Run's SUM
// all-reduce of the zone objectives, spec.md §4.5's total_obj) and takes the worst-case infeasibility/iteration-count/wall-time
// across zones (the MAX reduction spec.md §4.5 defines for solve-time).
func run(ctx context.Context, inst *powermodel.UnitCommitmentInstance, cfg config.Config, log zerolog.Logger, metricsReg *prometheus.Registry) (admm.Result, error) {
	pr, err := partition.Partition(inst, partition.Config{Epsilon: cfg.Partition.Epsilon, MaxSize: cfg.Partition.MaxSize})
	if err != nil {
		return admm.Result{}, fmt.Errorf("run: partition: %w", err)
	}
	partitionedInst := pr.Instance

	zoneIDs := map[int]bool{}
	for _, l := range partitionedInst.Lines {
		zoneIDs[l.Zone] = true
	}
	ids := make([]int, 0, len(zoneIDs))
	for z := range zoneIDs {
		ids = append(ids, z)
	}
	sort.Ints(ids)

	zoneSlot := make(map[int]int, len(ids))
	for i, z := range ids {
		zoneSlot[z] = i
	}

	g := graphmodel.FromLines(linesOf(partitionedInst))
	partitions := make(map[int]zone.Partitions, len(ids))
	for _, z := range ids {
		partitions[z] = zone.Classify(partitionedInst, g, z)
	}

	baseISF, err := sensitivity.Build(partitionedInst, nil)
	if err != nil {
		return admm.Result{}, fmt.Errorf("run: sensitivity.Build: %w", err)
	}

	linkBase := make(map[int]*subproblem.ZoneLinks, len(ids))
	for _, z := range ids {
		p := partitions[z]
		if len(p.BI) == 0 || len(p.InternalLines) == 0 || len(p.BE) == 0 {
			continue
		}
		sloughed, err := baseISF.ChangeSlack(p.BI[0])
		if err != nil {
			return admm.Result{}, fmt.Errorf("run: zone %d slack: %w", z, err)
		}
		lb, err := zone.BuildLinkBase(p, sloughed)
		if err != nil {
			return admm.Result{}, fmt.Errorf("run: zone %d link_base: %w", z, err)
		}
		linkBase[z] = &subproblem.ZoneLinks{ZoneID: z, BoundaryBuses: p.BIN, ExternalBuses: p.BE, LinkBase: lb}
	}

	var screeningHook admm.ScreeningHook
	violations := make([]iocsv.ViolationRef, 0)
	lastViolation := make([][]iocsv.ViolationRef, len(ids))
	if cfg.Algorithm.Security() {
		screeners, err := buildScreeners(partitionedInst, ids, partitions, baseISF)
		if err != nil {
			return admm.Result{}, fmt.Errorf("run: screening: %w", err)
		}
		normalLimit := make(map[int]float64, len(partitionedInst.Lines))
		for _, l := range partitionedInst.Lines {
			normalLimit[l.Index] = l.NormalCapacity
		}
		screeningHook = newScreeningHook(screeners, partitions, normalLimit, partitionedInst.BusCount(), cfg.Horizon, cfg.Algorithm.Security(), zoneSlot, lastViolation)
	}

	builder := ucmodel.SimpleBuilder{}
	factory := solver.ReferenceFactory{Gap: cfg.Solver.MIPGap, Threads: cfg.Solver.Threads, Seed: cfg.Solver.Seed}

	workers := make([]admm.Worker, len(ids))
	for i, z := range ids {
		p := partitions[z]
		var links []subproblem.ZoneLinks
		for _, k := range zone.Neighbors(p, partitions) {
			if lk, ok := linkBase[k]; ok {
				links = append(links, *lk)
			}
		}
		sp, err := subproblem.Build(partitionedInst, p, links, cfg.Horizon, builder, cfg.ReserveFrac)
		if err != nil {
			return admm.Result{}, fmt.Errorf("run: zone %d subproblem: %w", z, err)
		}
		w := admm.Worker{Subproblem: sp, Solver: factory.New(), Screen: screeningHook}
		if metricsReg != nil {
			m, err := telemetry.NewMetrics(metricsReg, z)
			if err != nil {
				return admm.Result{}, fmt.Errorf("run: zone %d metrics: %w", z, err)
			}
			w.Metrics = m
		}
		workers[i] = w
	}

	results := make([]admm.Result, len(ids))
	runErr := runtime.Run(ctx, len(ids), func(ctx context.Context, comm runtime.Communicator) error {
		rank := comm.Rank()
		r, err := admm.Run(ctx, comm, workers[rank], cfg.ADMM, log.With().Int("zone", ids[rank]).Logger())
		if err != nil {
			return err
		}
		results[rank] = r
		return nil
	})
	if runErr != nil {
		return admm.Result{}, fmt.Errorf("run: admm: %w", runErr)
	}

	for _, v := range lastViolation {
		violations = append(violations, v...)
	}

	agg := aggregate(results)

	if cfg.SolutionPath != "" {
		variation := fmt.Sprintf("d%.3f_l%.3f", cfg.DemandScale, cfg.LimitScale)
		row := buildSolutionRow(partitionedInst, partitionedInst.Name, variation, agg.Objective, cfg.Horizon, workers, results, violations)
		if err := iocsv.WriteSolution(cfg.SolutionPath, []iocsv.SolutionRow{row}); err != nil {
			return admm.Result{}, fmt.Errorf("run: write solution: %w", err)
		}
	}

	return agg, nil
}

func aggregate(results []admm.Result) admm.Result {
	var out admm.Result
	for _, r := range results {
		out.Objective = r.Objective
		if r.Infeasibility > out.Infeasibility {
			out.Infeasibility = r.Infeasibility
		}
		if r.Iterations > out.Iterations {
			out.Iterations = r.Iterations
		}
		if r.WallTime > out.WallTime {
			out.WallTime = r.WallTime
		}
		if r.TimePerIter > out.TimePerIter {
			out.TimePerIter = r.TimePerIter
		}
		out.Mode = r.Mode
	}
	return out
}

func linesOf(inst *powermodel.UnitCommitmentInstance) []graphmodel.Line {
	out := make([]graphmodel.Line, len(inst.Lines))
	for i, l := range inst.Lines {
		out[i] = graphmodel.Line{Index: l.Index, Source: l.Source, Target: l.Target}
	}
	return out
}

func summaryLine(instance string, cfg config.Config, r admm.Result) string {
	return fmt.Sprintf("%s,%s,%.3f,%.3f,%t,%t,%.6f,%.6f,%d,%.3fs,%.3fs",
		instance, cfg.Algorithm, cfg.DemandScale, cfg.LimitScale,
		cfg.Algorithm.Transmission(), cfg.Algorithm.Security(),
		r.Objective, r.Infeasibility, r.Iterations,
		r.WallTime.Seconds(), r.TimePerIter.Seconds())
}
