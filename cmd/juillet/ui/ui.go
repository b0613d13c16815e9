// Package ui provides terminal output helpers for the juillet CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

// UI writes human readable output. In JSON mode everything except
// JSON documents is suppressed.
type UI struct {
	out      io.Writer
	err      io.Writer
	noColor  bool
	jsonMode bool
}

// New creates a UI writing results to out and progress to errOut.
func New(out, errOut io.Writer, noColor, jsonMode bool) *UI {
	if noColor {
		color.NoColor = true
	}
	return &UI{out: out, err: errOut, noColor: noColor, jsonMode: jsonMode}
}

// JSON reports whether the UI is in JSON mode.
func (u *UI) JSON() bool { return u.jsonMode }

func (u *UI) line(attr color.Attribute, symbol, format string, args ...interface{}) {
	if u.jsonMode {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if u.noColor {
		fmt.Fprintf(u.out, "%s %s\n", symbol, msg)
		return
	}
	color.New(attr).Fprintf(u.out, "%s %s\n", symbol, msg)
}

// Success prints a success message.
func (u *UI) Success(format string, args ...interface{}) {
	u.line(color.FgGreen, "✓", format, args...)
}

// Warning prints a warning message.
func (u *UI) Warning(format string, args ...interface{}) {
	u.line(color.FgYellow, "⚠", format, args...)
}

// Info prints an info message.
func (u *UI) Info(format string, args ...interface{}) {
	u.line(color.FgCyan, "ℹ", format, args...)
}

// Error prints an error message to the error writer, even in JSON mode.
func (u *UI) Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if u.noColor {
		fmt.Fprintf(u.err, "✗ %s\n", msg)
		return
	}
	color.New(color.FgRed).Fprintf(u.err, "✗ %s\n", msg)
}

// Section prints a section header.
func (u *UI) Section(title string) {
	if u.jsonMode {
		return
	}
	fmt.Fprintln(u.out)
	if u.noColor {
		fmt.Fprintln(u.out, title)
	} else {
		color.New(color.Bold).Fprintln(u.out, title)
	}
	fmt.Fprintln(u.out, strings.Repeat("=", len(title)))
}

// KeyValue prints an aligned key and value.
func (u *UI) KeyValue(key string, value interface{}) {
	if u.jsonMode {
		return
	}
	if u.noColor {
		fmt.Fprintf(u.out, "  %-14s %v\n", key+":", value)
		return
	}
	color.New(color.FgHiBlack).Fprintf(u.out, "  %-14s ", key+":")
	fmt.Fprintf(u.out, "%v\n", value)
}

// Table prints rows under headers with aligned columns.
func (u *UI) Table(headers []string, rows [][]string) {
	if u.jsonMode {
		return
	}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	format := func(cells []string) string {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	header := format(headers)
	if u.noColor {
		fmt.Fprintln(u.out, header)
	} else {
		color.New(color.FgCyan, color.Bold).Fprintln(u.out, header)
	}
	sep := make([]string, len(widths))
	for i, w := range widths {
		sep[i] = strings.Repeat("-", w)
	}
	fmt.Fprintln(u.out, strings.Join(sep, "  "))
	for _, row := range rows {
		fmt.Fprintln(u.out, format(row))
	}
}

// Spinner wraps a spinner for indeterminate progress.
type Spinner struct {
	spinner *spinner.Spinner
}

// Spinner starts a spinner with message. It is a no-op when the error
// writer is not a terminal or in JSON mode.
func (u *UI) Spinner(message string) *Spinner {
	if u.jsonMode || !isTerminal(u.err) {
		return &Spinner{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(u.err))
	s.Suffix = " " + message
	s.Start()
	return &Spinner{spinner: s}
}

// UpdateMessage changes the spinner's message.
func (s *Spinner) UpdateMessage(message string) {
	if s.spinner != nil {
		s.spinner.Lock()
		s.spinner.Suffix = " " + message
		s.spinner.Unlock()
	}
}

// Stop stops the spinner and clears its line.
func (s *Spinner) Stop() {
	if s.spinner != nil {
		s.spinner.Stop()
	}
}

// ProgressBar tracks byte progress. It implements io.Writer so it can sit
// behind an io.TeeReader.
type ProgressBar struct {
	bar *progressbar.ProgressBar
}

// ProgressBar creates a byte progress bar. Nothing is drawn when the
// error writer is not a terminal or in JSON mode.
func (u *UI) ProgressBar(total int64, description string) *ProgressBar {
	w := u.err
	if u.jsonMode || !isTerminal(u.err) {
		w = io.Discard
	}
	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionEnableColorCodes(!u.noColor),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
	)
	return &ProgressBar{bar: bar}
}

// Write advances the bar by len(p).
func (p *ProgressBar) Write(b []byte) (int, error) {
	return p.bar.Write(b)
}

// Finish completes the bar.
func (p *ProgressBar) Finish() {
	_ = p.bar.Finish()
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

// FormatBytes formats bytes in a human-readable way.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
