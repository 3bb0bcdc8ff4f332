// Package results renders the evaluation report for the terminal.
package results

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/spigell/apprentice/internal/evaluator"
)

const (
	barWidth              = 20
	defaultRecommendation = "Pending"
)

// Render writes the report: overall score, recommendation, the per-dimension
// breakdown in fixed order, then the narrative sections that are present.
func Render(w io.Writer, report *evaluator.Report) error {
	if report == nil {
		return fmt.Errorf("no report to render")
	}

	p := &printer{w: w}

	p.printf("Overall score: %s/100\n", formatScore(report.OverallScore))
	p.printf("Recommendation: %s\n", Recommendation(report))

	p.section("Score breakdown")
	for _, d := range evaluator.Dimensions {
		score, ok := report.Score(d)
		if !ok {
			p.printf("  %-16s %s  n/a\n", d.Label(), Bar(0))
			continue
		}
		p.printf("  %-16s %s  %s\n", d.Label(), Bar(score), formatScore(score))
	}

	if summary := strings.TrimSpace(report.Summary); summary != "" {
		p.section("Summary")
		p.printf("  %s\n", summary)
	}

	p.list("Strengths", report.Strengths)
	p.list("Areas to improve", report.Weaknesses)

	if mcq := report.MCQ; mcq != nil {
		p.section("Assessment")
		p.printf("  %d of %d correct (%s)\n", mcq.Correct, mcq.Total, formatScore(mcq.Score))
	}

	if len(report.Transcripts) > 0 {
		p.section("Interview transcripts")
		for i, t := range report.Transcripts {
			p.printf("  Q%d: %s\n", i+1, strings.TrimSpace(t))
		}
	}

	return p.err
}

// Recommendation falls back to "Pending" while the evaluator has not decided.
func Recommendation(report *evaluator.Report) string {
	if report == nil {
		return defaultRecommendation
	}
	if r := strings.TrimSpace(report.Recommendation); r != "" {
		return r
	}
	return defaultRecommendation
}

// Bar draws score (0-100) as a fixed-width gauge.
func Bar(score float64) string {
	filled := int(math.Round(clamp(score) / 100 * barWidth))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled) + "]"
}

// DumpToTmpFile writes the report as indented JSON and returns the file name.
func DumpToTmpFile(report *evaluator.Report) (string, error) {
	file, err := os.CreateTemp("", "evaluation_*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return "", err
	}
	return file.Name(), nil
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) section(title string) {
	p.printf("\n%s\n", title)
}

func (p *printer) list(title string, items []string) {
	if len(items) == 0 {
		return
	}
	p.section(title)
	for _, item := range items {
		p.printf("  - %s\n", strings.TrimSpace(item))
	}
}

func formatScore(score float64) string {
	return fmt.Sprintf("%.0f", clamp(score))
}

func clamp(score float64) float64 {
	switch {
	case math.IsNaN(score), score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}
