package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/montanaflynn/stats"

	"github.com/elliot2/motioncore/autonomous"
	"github.com/elliot2/motioncore/utils"
)

// report collects the steps of a run.
type report struct {
	cpi float64

	mu      sync.Mutex
	results []autonomous.Result
}

func newReport(cpi float64) *report {
	return &report{cpi: cpi}
}

func (r *report) add(res autonomous.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *report) render(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := table.NewWriter()
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"#", "Step", "Type", "X (in)", "Y (in)", "Heading (deg)", "Elapsed", "Error"})
	elapsed := make(stats.Float64Data, 0, len(r.results))
	for _, res := range r.results {
		errStr := ""
		if res.Err != nil {
			errStr = res.Err.Error()
		}
		t.AppendRow(table.Row{
			res.Index,
			res.Label,
			res.Kind,
			fmt.Sprintf("%.2f", res.Pose.X/r.cpi),
			fmt.Sprintf("%.2f", res.Pose.Y/r.cpi),
			fmt.Sprintf("%.1f", utils.RadToDeg(res.Pose.Heading)),
			res.Elapsed.Round(time.Millisecond),
			errStr,
		})
		elapsed = append(elapsed, res.Elapsed.Seconds())
	}
	if total, err := elapsed.Sum(); err == nil {
		mean, _ := elapsed.Mean()
		longest, _ := elapsed.Max()
		t.AppendFooter(table.Row{
			"", "", "", "", "", "total / mean / max",
			fmt.Sprintf("%.3fs / %.3fs / %.3fs", total, mean, longest),
		})
	}
	fmt.Fprintln(w, t.Render())
}
