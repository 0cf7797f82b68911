package report

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/greenwave/internal/fsutil"
	"github.com/banshee-data/greenwave/internal/runlog"
)

// WaitHistogramPNG plots the distribution of per-step mean waits across the
// whole run and saves it as a PNG.
func WaitHistogramPNG(records []runlog.Record, path string) error {
	if len(records) == 0 {
		return fmt.Errorf("no records to plot")
	}

	waits := make(plotter.Values, 0, len(records))
	for _, r := range records {
		waits = append(waits, r.MeanWaitSec)
	}

	p := plot.New()
	p.Title.Text = "Waiting time distribution"
	p.X.Label.Text = "Mean wait (s)"
	p.Y.Label.Text = "Steps"

	hist, err := plotter.NewHist(waits, 24)
	if err != nil {
		return fmt.Errorf("build histogram: %w", err)
	}
	p.Add(hist)

	if err := p.Save(10*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save histogram: %w", err)
	}
	return nil
}

// RenderWaitBarChart writes a standalone HTML page with one bar per
// intersection: observed mean wait alongside the suggested green time.
func RenderWaitBarChart(w io.Writer, s Summary) error {
	x := make([]string, 0, len(s.Stats))
	waits := make([]opts.BarData, 0, len(s.Stats))
	greens := make([]opts.BarData, 0, len(s.Stats))
	for _, st := range s.Stats {
		x = append(x, st.IntersectionID)
		waits = append(waits, opts.BarData{Value: round1(st.MeanWaitSec)})
		greens = append(greens, opts.BarData{Value: round1(st.SuggestedGreenSec)})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Run %s", s.RunID),
			Subtitle: fmt.Sprintf("%d steps, rendered %s", s.Steps, time.Now().Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("mean wait (s)", waits,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		).
		AddSeries("suggested green (s)", greens)

	page := components.NewPage()
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("render bar chart: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteArtifacts produces the full analysis bundle for one run in dir:
// summary charts and the recommended program XML.
func WriteArtifacts(fs fsutil.FileSystem, dir string, s Summary, records []runlog.Record, phaseCounts map[string]int) error {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir %s: %w", dir, err)
	}

	html, err := fs.Create(dir + "/waits.html")
	if err != nil {
		return err
	}
	if err := RenderWaitBarChart(html, s); err != nil {
		html.Close()
		return err
	}
	if err := html.Close(); err != nil {
		return err
	}

	xmlFile, err := fs.Create(dir + "/program.xml")
	if err != nil {
		return err
	}
	if err := WriteProgramsXML(xmlFile, s.RunID, s.RecommendedPrograms(phaseCounts)); err != nil {
		xmlFile.Close()
		return err
	}
	if err := xmlFile.Close(); err != nil {
		return err
	}

	// gonum/plot writes straight to disk; only on the real filesystem.
	if _, ok := fs.(fsutil.OSFileSystem); ok {
		if err := WaitHistogramPNG(records, dir+"/wait_histogram.png"); err != nil {
			return err
		}
	}
	return nil
}
