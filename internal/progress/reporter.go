// Package progress renders generation events and batch summaries for a
// terminal.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"veogen/internal/domain"
	"veogen/internal/generator"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#95E1A3"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8DADC"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4ECDC4")).
			Padding(1, 2)
)

const (
	barWidth = 30
	// step is the fraction a job must advance before its bar is redrawn.
	step = 0.1
)

// Reporter prints one line per phase change and a bar while a job polls or
// downloads. It is safe for concurrent use.
type Reporter struct {
	mu    sync.Mutex
	out   io.Writer
	bar   progress.Model
	total int
	last  map[int]state
}

type state struct {
	phase    generator.Phase
	fraction float64
}

// NewReporter writes to out. total is the number of jobs, used for the
// "[i/n]" prefix; zero hides it.
func NewReporter(out io.Writer, total int) *Reporter {
	bar := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	bar.Width = barWidth
	return &Reporter{out: out, bar: bar, total: total, last: map[int]state{}}
}

func (r *Reporter) OnProgress(e generator.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, seen := r.last[e.JobIndex]
	if seen && prev.phase == e.Phase {
		if e.Fraction < 1 && e.Fraction-prev.fraction < step {
			return
		}
	}
	r.last[e.JobIndex] = state{phase: e.Phase, fraction: e.Fraction}

	line := r.render(e)
	if line != "" {
		fmt.Fprintln(r.out, line)
	}
}

func (r *Reporter) render(e generator.Event) string {
	prefix := dimStyle.Render(r.prefix(e.JobIndex))
	prompt := truncate(e.Prompt, 40)

	switch e.Phase {
	case generator.PhaseQueued:
		return prefix + dimStyle.Render("queued "+prompt)
	case generator.PhaseUploading:
		return prefix + infoStyle.Render("› uploading image for "+prompt)
	case generator.PhaseSubmitting:
		return prefix + infoStyle.Render("› submitting "+prompt)
	case generator.PhasePolling:
		return prefix + r.bar.ViewAs(e.Fraction) + " " + infoStyle.Render("generating "+FormatDuration(e.Elapsed))
	case generator.PhaseDownloading:
		detail := FormatBytes(e.Bytes)
		if e.Total > 0 {
			detail += " / " + FormatBytes(e.Total)
		}
		return prefix + r.bar.ViewAs(e.Fraction) + " " + infoStyle.Render("downloading "+detail)
	case generator.PhaseDone:
		return prefix + successStyle.Render(fmt.Sprintf("✓ %s (%s in %s)", prompt, FormatBytes(e.Bytes), FormatDuration(e.Elapsed)))
	case generator.PhaseFailed:
		return prefix + errorStyle.Render("✗ "+prompt+": "+e.Message)
	default:
		return ""
	}
}

func (r *Reporter) prefix(index int) string {
	if index < 0 || r.total == 0 {
		return ""
	}
	return fmt.Sprintf("[%d/%d] ", index+1, r.total)
}

// WriteSummary prints the boxed batch report followed by one line per failure.
func WriteSummary(w io.Writer, res domain.BatchResult) {
	var b strings.Builder
	b.WriteString(titleStyle.Render(res.Summary()))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Successful: %d\nFailed: %d\nTotal time: %s",
		res.Successful, res.Failed, FormatDuration(time.Duration(res.TotalTime*float64(time.Second))))
	for _, v := range res.SuccessfulVideos() {
		b.WriteString("\n")
		b.WriteString(successStyle.Render("✓ " + v.VideoPath))
	}
	fmt.Fprintln(w, boxStyle.Render(b.String()))

	for _, v := range res.FailedVideos() {
		fmt.Fprintln(w, errorStyle.Render("✗ "+truncate(v.Prompt, 60)+": "+v.Error))
	}
}

// WriteResult prints the outcome of a single job.
func WriteResult(w io.Writer, resp domain.VideoResponse) {
	if resp.IsSuccess() {
		fmt.Fprintln(w, successStyle.Render(fmt.Sprintf("✓ Video saved to %s (%.2f MB, %s)",
			resp.VideoPath, resp.FileSizeMB, FormatDuration(time.Duration(resp.GenerationTime*float64(time.Second))))))
		return
	}
	fmt.Fprintln(w, errorStyle.Render("✗ Generation failed: "+resp.Error))
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatDuration renders d as "1m05s" or "42s".
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := int(d / time.Minute)
	s := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%dm%02ds", m, s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
