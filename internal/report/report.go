// Package report turns archived run records into post-run analysis: per
// intersection wait statistics, suggested green times, signal program
// recommendations, and wait distribution charts.
package report

import (
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/banshee-data/greenwave/internal/classify"
	"github.com/banshee-data/greenwave/internal/fsutil"
	"github.com/banshee-data/greenwave/internal/runlog"
)

// YellowSec is the fixed inter-green clearance inserted after every green
// phase in recommended programs.
const YellowSec = 3.0

// SuggestedGreenSec maps a mean wait to a green duration: 30s base, growing
// with the ratio of observed wait to a 45s reference, capped at 90s.
func SuggestedGreenSec(meanWaitSec float64) float64 {
	return math.Min(90, 30*(1+meanWaitSec/45))
}

// IntersectionStats is one intersection's aggregate over a whole run.
type IntersectionStats struct {
	IntersectionID    string
	Records           int
	MeanWaitSec       float64
	MaxWaitSec        float64
	MeanQueue         float64
	MeanOccupancy     float64
	SuggestedGreenSec float64
}

// Summary is the per-run analysis product.
type Summary struct {
	RunID string
	Steps int

	// Stats is ordered by descending mean wait, worst first.
	Stats []IntersectionStats
}

// Summarize folds run records into per-intersection statistics.
func Summarize(runID string, records []runlog.Record) Summary {
	type accum struct {
		waitSum, maxWait float64
		queueSum         int
		occSum           float64
		n                int
	}
	byID := make(map[string]*accum)
	steps := make(map[float64]struct{})
	for _, r := range records {
		acc := byID[r.IntersectionID]
		if acc == nil {
			acc = &accum{}
			byID[r.IntersectionID] = acc
		}
		acc.waitSum += r.MeanWaitSec
		if r.MeanWaitSec > acc.maxWait {
			acc.maxWait = r.MeanWaitSec
		}
		acc.queueSum += r.QueueLength
		acc.occSum += r.Occupancy
		acc.n++
		steps[r.StepTime] = struct{}{}
	}

	s := Summary{RunID: runID, Steps: len(steps)}
	for id, acc := range byID {
		n := float64(acc.n)
		st := IntersectionStats{
			IntersectionID: id,
			Records:        acc.n,
			MeanWaitSec:    acc.waitSum / n,
			MaxWaitSec:     acc.maxWait,
			MeanQueue:      float64(acc.queueSum) / n,
			MeanOccupancy:  acc.occSum / n,
		}
		st.SuggestedGreenSec = SuggestedGreenSec(st.MeanWaitSec)
		s.Stats = append(s.Stats, st)
	}
	sort.Slice(s.Stats, func(i, j int) bool {
		if s.Stats[i].MeanWaitSec != s.Stats[j].MeanWaitSec {
			return s.Stats[i].MeanWaitSec > s.Stats[j].MeanWaitSec
		}
		return s.Stats[i].IntersectionID < s.Stats[j].IntersectionID
	})
	return s
}

// WorstQuintile returns the worst-waiting fifth of intersections, at least
// one when any exist. Stats are already ordered worst first.
func (s Summary) WorstQuintile() []IntersectionStats {
	if len(s.Stats) == 0 {
		return nil
	}
	n := (len(s.Stats) + 4) / 5
	return s.Stats[:n]
}

// BalanceScore measures how evenly green time is spread across the network:
// the ratio of the smallest suggested green to the largest, in (0, 1].
// Higher is better; 1 means perfectly even.
func (s Summary) BalanceScore() float64 {
	if len(s.Stats) == 0 {
		return 0
	}
	min, max := math.Inf(1), math.Inf(-1)
	for _, st := range s.Stats {
		min = math.Min(min, st.SuggestedGreenSec)
		max = math.Max(max, st.SuggestedGreenSec)
	}
	if max <= 0 {
		return 0
	}
	return min / max
}

// TotalCycleSec is the summed recommended cycle time across the network:
// suggested green plus yellow clearance, per intersection. Used as a
// tie-breaker when ranking runs; shorter cycles win.
func (s Summary) TotalCycleSec() float64 {
	var total float64
	for _, st := range s.Stats {
		total += st.SuggestedGreenSec + YellowSec
	}
	return total
}

// Program is a recommended fixed-time signal program for one intersection.
type Program struct {
	IntersectionID string  `xml:"intersection,attr"`
	ProgramID      string  `xml:"programID,attr"`
	Phases         []Phase `xml:"phase"`
}

// Phase is one program entry: a green interval or its yellow clearance.
type Phase struct {
	Index    int     `xml:"index,attr"`
	Kind     string  `xml:"type,attr"`
	Duration float64 `xml:"duration,attr"`
}

// programSet is the XML document root.
type programSet struct {
	XMLName  xml.Name  `xml:"signalPrograms"`
	RunID    string    `xml:"run,attr"`
	Programs []Program `xml:"program"`
}

// RecommendedPrograms derives a fixed-time program per intersection from
// the run summary: each green phase gets the suggested green, followed by
// the fixed yellow clearance. phaseCounts maps intersection id to the
// number of green phases in its cycle.
func (s Summary) RecommendedPrograms(phaseCounts map[string]int) []Program {
	var out []Program
	for _, st := range s.Stats {
		phases := phaseCounts[st.IntersectionID]
		if phases < 1 {
			phases = 2
		}
		p := Program{
			IntersectionID: st.IntersectionID,
			ProgramID:      "adaptive",
		}
		for i := 0; i < phases; i++ {
			p.Phases = append(p.Phases,
				Phase{Index: i, Kind: "green", Duration: round1(st.SuggestedGreenSec)},
				Phase{Index: i, Kind: "yellow", Duration: YellowSec},
			)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IntersectionID < out[j].IntersectionID })
	return out
}

// WriteProgramsXML renders the recommended programs as an XML document.
func WriteProgramsXML(w io.Writer, runID string, programs []Program) error {
	doc := programSet{RunID: runID, Programs: programs}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode program xml: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// LoadRecords reads a run's CSV log back into records. The header row is
// validated against the writer's schema.
func LoadRecords(fs fsutil.FileSystem, path string) ([]runlog.Record, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", path, err)
	}
	defer f.Close()

	rd := csv.NewReader(f)
	rows, err := rd.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read run log %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("run log %s is empty", path)
	}
	if len(rows[0]) != len(runlog.Header) || rows[0][0] != runlog.Header[0] {
		return nil, fmt.Errorf("run log %s has unexpected header %v", path, rows[0])
	}

	records := make([]runlog.Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rec, err := parseRecord(row)
		if err != nil {
			return nil, fmt.Errorf("run log %s row %d: %w", path, i+2, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRecord(row []string) (runlog.Record, error) {
	if len(row) != len(runlog.Header) {
		return runlog.Record{}, fmt.Errorf("expected %d fields, got %d", len(runlog.Header), len(row))
	}
	stepTime, err := strconv.ParseFloat(row[0], 64)
	if err != nil {
		return runlog.Record{}, fmt.Errorf("bad stepTime %q: %w", row[0], err)
	}
	queue, err := strconv.Atoi(row[2])
	if err != nil {
		return runlog.Record{}, fmt.Errorf("bad queueLength %q: %w", row[2], err)
	}
	wait, err := strconv.ParseFloat(row[3], 64)
	if err != nil {
		return runlog.Record{}, fmt.Errorf("bad meanWait %q: %w", row[3], err)
	}
	occ, err := strconv.ParseFloat(row[4], 64)
	if err != nil {
		return runlog.Record{}, fmt.Errorf("bad occupancy %q: %w", row[4], err)
	}
	label, err := classify.ParseLabel(row[5])
	if err != nil {
		return runlog.Record{}, err
	}
	phase, err := strconv.Atoi(row[6])
	if err != nil {
		return runlog.Record{}, fmt.Errorf("bad phaseIndex %q: %w", row[6], err)
	}
	return runlog.Record{
		StepTime:       stepTime,
		IntersectionID: row[1],
		QueueLength:    queue,
		MeanWaitSec:    wait,
		Occupancy:      occ,
		Label:          label,
		PhaseIndex:     phase,
		Decision:       row[7],
	}, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
