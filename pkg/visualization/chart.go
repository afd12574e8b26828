package visualization

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/wcharczuk/go-chart/v2"

	"leafarea/internal/models"
)

// ErrNothingToPlot is returned when no result carries a measurement
var ErrNothingToPlot = errors.New("no measurements to plot")

const (
	chartHeight   = 512
	barWidth      = 40
	barSpacing    = 20
	minChartWidth = 640
)

// RenderAreaChart draws a bar for every measurement of results, in result
// order, and writes the chart to w as PNG. Failed results are skipped.
func RenderAreaChart(results []*models.Result, title string, w io.Writer) error {
	var bars []chart.Value
	top := 0.0
	for _, r := range results {
		if r == nil || r.Failed() {
			continue
		}
		for _, m := range r.Measurements {
			bars = append(bars, chart.Value{Value: m.Area, Label: barLabel(m)})
			if m.Area > top {
				top = m.Area
			}
		}
	}
	if len(bars) == 0 {
		return ErrNothingToPlot
	}
	if top == 0 {
		top = 1
	}

	width := len(bars)*(barWidth+barSpacing) + 2*barSpacing
	if width < minChartWidth {
		width = minChartWidth
	}

	graph := chart.BarChart{
		Title: title,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Bottom: 20},
		},
		Width:    width,
		Height:   chartHeight,
		BarWidth: barWidth,
		YAxis: chart.YAxis{
			Name:  "Area (cm²)",
			Range: &chart.ContinuousRange{Min: 0, Max: top * 1.1},
		},
		Bars: bars,
	}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("failed to render area chart: %w", err)
	}
	return nil
}

func barLabel(m models.Measurement) string {
	name := filepath.Base(m.Filename)
	if m.Combined() {
		return name
	}
	return fmt.Sprintf("%s #%d", name, m.Component)
}
