package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/banshee-data/greenwave/internal/archive"
	"github.com/banshee-data/greenwave/internal/classify"
	"github.com/banshee-data/greenwave/internal/config"
	"github.com/banshee-data/greenwave/internal/control"
	"github.com/banshee-data/greenwave/internal/fsutil"
	"github.com/banshee-data/greenwave/internal/pipeline"
	"github.com/banshee-data/greenwave/internal/report"
	"github.com/banshee-data/greenwave/internal/runlog"
	"github.com/banshee-data/greenwave/internal/security"
	"github.com/banshee-data/greenwave/internal/sim"
	"github.com/banshee-data/greenwave/internal/telemetry"
	"github.com/banshee-data/greenwave/internal/timeutil"
	"github.com/banshee-data/greenwave/internal/version"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to run config JSON")
	devMode    = flag.Bool("dev", false, "Run against a scripted in-memory simulator")
	devSteps   = flag.Int("dev-steps", 600, "Script length in steps for -dev mode")
	simAddr    = flag.String("sim", "", "Simulator address (overrides config)")
	outputDir  = flag.String("out", "", "Output directory (overrides config)")
)

func main() {
	flag.Parse()
	log.Printf("greenwave %s (%s)", version.Version, version.GitSHA)

	fs := fsutil.OSFileSystem{}

	cfg, err := config.LoadRunConfig(fs, *configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *simAddr != "" {
		cfg.SimAddress = simAddr
	}
	if *outputDir != "" {
		cfg.OutputDir = outputDir
	}

	// Config-named paths must stay inside the working tree.
	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("failed to resolve working directory: %v", err)
	}
	for _, p := range []string{cfg.GetTopologyFile(), cfg.GetClusterModelPath(), cfg.GetOutputDir()} {
		if p == "" || filepath.IsAbs(p) {
			continue
		}
		if err := security.ValidatePathWithinDirectory(p, wd); err != nil {
			log.Fatalf("unsafe configured path: %v", err)
		}
	}

	topo, err := telemetry.LoadTopology(fs, cfg.GetTopologyFile())
	if err != nil {
		log.Fatalf("failed to load topology: %v", err)
	}
	phaseCounts := make(map[string]int)
	for _, id := range topo.IntersectionIDs() {
		phaseCounts[id] = topo.PhaseCount(id)
	}

	classifier, err := buildClassifier(fs, cfg)
	if err != nil {
		log.Fatalf("failed to build classifier: %v", err)
	}

	controller, err := control.New(control.Config{
		MinGreenSec:   cfg.GetMinGreenSec(),
		MaxGreenSec:   cfg.GetMaxGreenSec(),
		ExtensionSec:  cfg.GetExtensionIncrementSec(),
		HistoryWindow: cfg.GetHistoryWindow(),
	}, phaseCounts, classifier.Labels())
	if err != nil {
		log.Fatalf("failed to build controller: %v", err)
	}

	var bridge sim.Bridge
	if *devMode {
		bridge = sim.NewMockBridge(phaseCounts, devScript(topo, *devSteps), 1.0)
		log.Printf("dev mode: scripted simulator, %d steps", *devSteps)
	} else {
		bridge, err = sim.Dial(cfg.GetSimAddress(), cfg.GetDialTimeout())
		if err != nil {
			log.Fatalf("failed to connect to simulator at %s: %v", cfg.GetSimAddress(), err)
		}
	}
	defer bridge.Close()

	runID := archive.NewRunID(time.Now())
	runDir := filepath.Join(cfg.GetOutputDir(), runID)
	if err := fs.MkdirAll(runDir, 0o755); err != nil {
		log.Fatalf("failed to create run directory: %v", err)
	}

	runLog, err := runlog.New(fs, filepath.Join(runDir, "run.csv"), cfg.GetLogBuffer())
	if err != nil {
		log.Fatalf("failed to open run log: %v", err)
	}

	var archiveDB *archive.DB
	var archiveWriter *archive.Writer
	if cfg.GetArchiveEnabled() {
		archiveDB, err = archive.Open(cfg.GetArchivePath())
		if err != nil {
			// Archiving is diagnostic; a broken archive must not block a run.
			log.Printf("archive unavailable, continuing without: %v", err)
		} else {
			defer archiveDB.Close()
			meta := archive.RunMeta{
				RunID:        runID,
				SimAddress:   cfg.GetSimAddress(),
				TopologyFile: cfg.GetTopologyFile(),
				MinGreenSec:  cfg.GetMinGreenSec(),
				MaxGreenSec:  cfg.GetMaxGreenSec(),
			}
			if err := archiveDB.BeginRun(meta); err != nil {
				log.Printf("archive begin failed, continuing without: %v", err)
				archiveDB = nil
			} else {
				archiveWriter = archive.NewWriter(archiveDB, runID)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := &pipeline.Runtime{
		Bridge:     bridge,
		Topology:   topo,
		Classifier: classifier,
		Controller: controller,
		Clock:      timeutil.RealClock{},
		Log:        runLog,
		Archive:    archiveWriter,
		StepBudget: cfg.GetStepBudget(),
		StepDelay:  cfg.GetStepDelay(),
	}

	log.Printf("run %s starting: %d intersections, sim=%s", runID, len(phaseCounts), cfg.GetSimAddress())
	res, runErr := rt.Run(ctx)
	log.Printf("run %s stopped after %d steps (t=%.0fs): %s", runID, res.Steps, res.FinalTime, res.StopReason)

	if err := runLog.Close(); err != nil {
		log.Printf("failed to close run log: %v", err)
	}
	if archiveDB != nil {
		if err := archiveDB.FinishRun(runID, res.Steps, res.StopReason); err != nil {
			log.Printf("failed to finish archived run: %v", err)
		}
	}

	if res.Steps > 0 {
		writeReport(fs, runDir, runID, phaseCounts)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Fatalf("run failed: %v", runErr)
	}
}

func buildClassifier(fs fsutil.FileSystem, cfg *config.RunConfig) (classify.Classifier, error) {
	if path := cfg.GetClusterModelPath(); path != "" {
		return classify.LoadKMeans(fs, path, cfg.GetClusterCount())
	}
	t := classify.Thresholds{
		MediumQueue: 4, HighQueue: 10,
		MediumWaitSec: 20, HighWaitSec: 45,
		MediumOccupancy: 0.35, HighOccupancy: 0.65,
	}
	if c := cfg.CongestionThresholds; c != nil {
		t = classify.Thresholds{
			MediumQueue:     c.MediumQueue,
			HighQueue:       c.HighQueue,
			MediumWaitSec:   c.MediumWaitSec,
			HighWaitSec:     c.HighWaitSec,
			MediumOccupancy: c.MediumOccupancy,
			HighOccupancy:   c.HighOccupancy,
		}
	}
	return classify.NewThresholdClassifier(t)
}

// writeReport generates the post-run analysis bundle next to the CSV log.
// Failures here are logged, not fatal: the run data is already on disk.
func writeReport(fs fsutil.FileSystem, runDir, runID string, phaseCounts map[string]int) {
	records, err := report.LoadRecords(fs, filepath.Join(runDir, "run.csv"))
	if err != nil {
		log.Printf("skipping report: %v", err)
		return
	}
	summary := report.Summarize(runID, records)
	if err := report.WriteArtifacts(fs, runDir, summary, records, phaseCounts); err != nil {
		log.Printf("failed to write report artifacts: %v", err)
		return
	}
	for _, st := range summary.WorstQuintile() {
		log.Printf("worst wait: %s mean=%.1fs suggested green=%.0fs",
			st.IntersectionID, st.MeanWaitSec, st.SuggestedGreenSec)
	}
}

// devScript synthesises a plausible demand curve for the scripted simulator:
// a quiet lead-in, a congestion wave peaking mid-run, then drain-out.
func devScript(topo *telemetry.Topology, steps int) []sim.ScriptedStep {
	lanes := topo.LaneIDs()
	script := make([]sim.ScriptedStep, steps)
	for i := range script {
		// demand in [0,1], peaking at the midpoint
		x := float64(i) / math.Max(1, float64(steps-1))
		demand := math.Sin(x * math.Pi)

		samples := make(map[string]sim.LaneSample, len(lanes))
		for j, lane := range lanes {
			// stagger lanes so intersections disagree about congestion
			local := demand * (0.6 + 0.4*math.Sin(float64(j)+x*6))
			if local < 0 {
				local = 0
			}
			samples[lane] = sim.LaneSample{
				VehicleCount: int(math.Round(local * 14)),
				MeanSpeedMps: 13.9 * (1 - 0.9*local),
				MeanWaitSec:  local * 80,
				HaltingCount: int(math.Round(local * 9)),
				Occupancy:    local,
			}
		}
		script[i] = sim.ScriptedStep{
			Lanes:          samples,
			ActiveVehicles: int(math.Round(demand * 14 * float64(len(lanes)))),
		}
	}
	return script
}
