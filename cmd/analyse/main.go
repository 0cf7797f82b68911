// Command analyse compares archived control runs and picks the best one.
// It scans a runs directory for CSV logs, summarises each run, ranks them
// by green-time balance (ties broken by total cycle time), and writes the
// winner's recommended signal program XML.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/banshee-data/greenwave/internal/fsutil"
	"github.com/banshee-data/greenwave/internal/report"
	"github.com/banshee-data/greenwave/internal/telemetry"
)

var (
	runsDir      = flag.String("runs", "runs", "Directory containing run_* subdirectories")
	topologyPath = flag.String("topology", "config/topology.json", "Topology file for phase counts")
	outPath      = flag.String("out", "", "Where to write the winning program XML (default: print path only)")
	showAll      = flag.Bool("all", false, "Print per-intersection stats for every run, not just the ranking")
)

type rankedRun struct {
	summary report.Summary
	csvPath string
}

func main() {
	flag.Parse()

	fs := fsutil.OSFileSystem{}

	topo, err := telemetry.LoadTopology(fs, *topologyPath)
	if err != nil {
		log.Fatalf("failed to load topology: %v", err)
	}
	phaseCounts := make(map[string]int)
	for _, id := range topo.IntersectionIDs() {
		phaseCounts[id] = topo.PhaseCount(id)
	}

	ranked, err := collectRuns(fs, *runsDir)
	if err != nil {
		log.Fatalf("failed to scan runs: %v", err)
	}
	if len(ranked) == 0 {
		log.Fatalf("no runs found under %s", *runsDir)
	}

	// Best balance wins; among equally balanced runs, prefer the shorter
	// network cycle.
	sort.Slice(ranked, func(i, j int) bool {
		bi, bj := ranked[i].summary.BalanceScore(), ranked[j].summary.BalanceScore()
		if bi != bj {
			return bi > bj
		}
		return ranked[i].summary.TotalCycleSec() < ranked[j].summary.TotalCycleSec()
	})

	printRanking(ranked)
	if *showAll {
		for _, r := range ranked {
			printStats(r.summary)
		}
	}

	best := ranked[0]
	fmt.Printf("\nbest run: %s (balance %.3f, cycle %.0fs)\n",
		best.summary.RunID, best.summary.BalanceScore(), best.summary.TotalCycleSec())

	if *outPath != "" {
		f, err := fs.Create(*outPath)
		if err != nil {
			log.Fatalf("failed to create %s: %v", *outPath, err)
		}
		programs := best.summary.RecommendedPrograms(phaseCounts)
		if err := report.WriteProgramsXML(f, best.summary.RunID, programs); err != nil {
			f.Close()
			log.Fatalf("failed to write program XML: %v", err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("failed to close %s: %v", *outPath, err)
		}
		fmt.Printf("wrote %s\n", *outPath)
	}
}

// collectRuns loads and summarises every run log under dir.
func collectRuns(fs fsutil.FileSystem, dir string) ([]rankedRun, error) {
	paths, err := fs.Glob(filepath.Join(dir, "run_*", "run.csv"))
	if err != nil {
		return nil, err
	}

	var out []rankedRun
	for _, path := range paths {
		records, err := report.LoadRecords(fs, path)
		if err != nil {
			log.Printf("skipping %s: %v", path, err)
			continue
		}
		runID := filepath.Base(filepath.Dir(path))
		out = append(out, rankedRun{
			summary: report.Summarize(runID, records),
			csvPath: path,
		})
	}
	return out, nil
}

func printRanking(ranked []rankedRun) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTEPS\tBALANCE\tCYCLE(s)\tWORST WAIT(s)")
	for _, r := range ranked {
		worst := 0.0
		if len(r.summary.Stats) > 0 {
			worst = r.summary.Stats[0].MeanWaitSec
		}
		fmt.Fprintf(w, "%s\t%d\t%.3f\t%.0f\t%.1f\n",
			r.summary.RunID, r.summary.Steps,
			r.summary.BalanceScore(), r.summary.TotalCycleSec(), worst)
	}
	w.Flush()
}

func printStats(s report.Summary) {
	fmt.Printf("\n%s:\n", s.RunID)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  INTERSECTION\tMEAN WAIT(s)\tMAX WAIT(s)\tMEAN QUEUE\tSUGGESTED GREEN(s)")
	for _, st := range s.Stats {
		fmt.Fprintf(w, "  %s\t%.1f\t%.1f\t%.1f\t%.0f\n",
			st.IntersectionID, st.MeanWaitSec, st.MaxWaitSec, st.MeanQueue, st.SuggestedGreenSec)
	}
	w.Flush()
}
