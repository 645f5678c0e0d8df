package engine

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// BenchResult collects per-repetition throughput for one benchmark run.
type BenchResult struct {
	Model     string
	SizeBytes int64
	Backend   string
	PP        int
	TG        int
	PL        int
	// Tokens per second per repetition.
	PPRates []float64
	TGRates []float64
}

// Markdown renders r as a llama-bench style table.
func (r BenchResult) Markdown() string {
	var b strings.Builder
	b.WriteString("| model | size | backend | test | t/s |\n")
	b.WriteString("| --- | --- | --- | --- | --- |\n")
	size := humanize.IBytes(uint64(max(r.SizeBytes, 0)))
	if r.PP > 0 {
		m, sd := meanStd(r.PPRates)
		fmt.Fprintf(&b, "| %s | %s | %s | pp %d pl %d | %.2f ± %.2f |\n", r.Model, size, r.Backend, r.PP, r.PL, m, sd)
	}
	if r.TG > 0 {
		m, sd := meanStd(r.TGRates)
		fmt.Fprintf(&b, "| %s | %s | %s | tg %d pl %d | %.2f ± %.2f |\n", r.Model, size, r.Backend, r.TG, r.PL, m, sd)
	}
	return b.String()
}

func newBenchResult(path, backend string, pp, tg, pl int) BenchResult {
	r := BenchResult{Model: filepath.Base(path), Backend: backend, PP: pp, TG: tg, PL: pl}
	if fi, err := os.Stat(path); err == nil {
		r.SizeBytes = fi.Size()
	}
	return r
}

// benchPrompt builds a prompt of roughly n tokens.
func benchPrompt(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(" the", n)
}

func normalizeBench(pp, tg, pl, nr int) (int, int, int, int) {
	if pp < 0 {
		pp = 0
	}
	if tg < 0 {
		tg = 0
	}
	if pl <= 0 {
		pl = 1
	}
	if nr <= 0 {
		nr = 1
	}
	return pp, tg, pl, nr
}

func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if len(xs) == 1 {
		return mean, 0
	}
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)-1))
}
