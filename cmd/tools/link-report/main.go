// link-report summarizes a tracker journal after a session: ack rate and
// round-trip statistics on stdout, and an HTML chart of link quality over
// time for a closer look.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/tidemark-data/regatta.report/internal/journal"
	"github.com/tidemark-data/regatta.report/internal/telemetry"
)

var (
	journalPath = flag.String("journal", "journal.db", "Path to the tracker journal")
	out         = flag.String("out", "link-report.html", "Output HTML chart path")
	maxRows     = flag.Int("max", 50000, "Maximum journal rows to read")
)

func main() {
	flag.Parse()

	db, err := journal.Open(*journalPath)
	if err != nil {
		log.Fatalf("failed to open journal: %v", err)
	}
	defer db.Close()

	outcomes, err := db.RecentOutcomes(*maxRows)
	if err != nil {
		log.Fatalf("failed to read outcomes: %v", err)
	}
	if len(outcomes) == 0 {
		log.Fatal("journal is empty")
	}
	// RecentOutcomes is newest-first; the report reads forward in time.
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Time.Before(outcomes[j].Time) })

	summary, err := db.Summarize()
	if err != nil {
		log.Fatalf("failed to summarize journal: %v", err)
	}
	printSummary(summary, outcomes)

	if err := renderChart(*out, outcomes); err != nil {
		log.Fatalf("failed to render chart: %v", err)
	}
	fmt.Printf("chart written to %s\n", *out)
}

func printSummary(s journal.Summary, outcomes []telemetry.Outcome) {
	fmt.Printf("session: %s to %s\n",
		s.FirstSeen.Format(time.RFC3339), s.LastSeen.Format(time.RFC3339))
	fmt.Printf("reports: %d total, %d acked (%.1f%%), %d via fallback\n",
		s.Total, s.Acked, 100*float64(s.Acked)/float64(s.Total), s.ViaHTTP)

	var rtts []float64
	for _, o := range outcomes {
		if o.Acked && o.RTT > 0 {
			rtts = append(rtts, float64(o.RTT)/float64(time.Millisecond))
		}
	}
	if len(rtts) == 0 {
		fmt.Println("no round-trip samples")
		return
	}
	sort.Float64s(rtts)
	fmt.Printf("round trip: mean %.0fms, p50 %.0fms, p95 %.0fms, max %.0fms (%d samples)\n",
		stat.Mean(rtts, nil),
		stat.Quantile(0.50, stat.Empirical, rtts, nil),
		stat.Quantile(0.95, stat.Empirical, rtts, nil),
		rtts[len(rtts)-1], len(rtts))
}

// renderChart writes an HTML line chart of per-minute ack rate with RTTs on
// a second axis.
func renderChart(path string, outcomes []telemetry.Outcome) error {
	type bucket struct {
		total, acked int
		rttSum       float64
		rttCount     int
	}
	buckets := map[int64]*bucket{}
	var keys []int64
	for _, o := range outcomes {
		k := o.Time.Unix() / 60
		b, ok := buckets[k]
		if !ok {
			b = &bucket{}
			buckets[k] = b
			keys = append(keys, k)
		}
		b.total++
		if o.Acked {
			b.acked++
			if o.RTT > 0 {
				b.rttSum += float64(o.RTT) / float64(time.Millisecond)
				b.rttCount++
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	labels := make([]string, 0, len(keys))
	ackRate := make([]opts.LineData, 0, len(keys))
	rtt := make([]opts.LineData, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		labels = append(labels, time.Unix(k*60, 0).UTC().Format("15:04"))
		ackRate = append(ackRate, opts.LineData{Value: 100 * float64(b.acked) / float64(b.total)})
		if b.rttCount > 0 {
			rtt = append(rtt, opts.LineData{Value: b.rttSum / float64(b.rttCount)})
		} else {
			rtt = append(rtt, opts.LineData{Value: nil})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Link Report", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Link Quality", Subtitle: fmt.Sprintf("%d reports", len(outcomes))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ack rate (%)", Min: 0, Max: 100}),
	)
	line.ExtendYAxis(opts.YAxis{Name: "rtt (ms)", Min: 0})
	line.SetXAxis(labels)
	line.AddSeries("ack rate", ackRate)
	line.AddSeries("mean rtt", rtt, charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1}))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return line.Render(f)
}
