package workflow

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Reporter receives progress events. It never influences the outcome of a run.
type Reporter interface {
	StepStarted(step State, index, total int)
	StepSucceeded(step State, wc Context)
	StepFailed(step State, err error)
	Note(msg string)
}

// NopReporter discards every event.
type NopReporter struct{}

func (NopReporter) StepStarted(State, int, int)  {}
func (NopReporter) StepSucceeded(State, Context) {}
func (NopReporter) StepFailed(State, error)      {}
func (NopReporter) Note(string)                  {}

// ProgressWriter prints progress as "[deploy] ..." lines
type ProgressWriter struct {
	w         io.Writer
	prefix    string
	startTime time.Time
	debug     bool
}

// NewProgressWriter creates a new ProgressWriter
func NewProgressWriter(w io.Writer, debug bool) *ProgressWriter {
	return &ProgressWriter{
		w:         w,
		prefix:    "deploy",
		startTime: time.Now(),
		debug:     debug,
	}
}

func (p *ProgressWriter) StepStarted(step State, index, total int) {
	fmt.Fprintf(p.w, "[%s] running step %d/%d: %s\n", p.prefix, index, total, StepLabel(step))
}

func (p *ProgressWriter) StepSucceeded(step State, wc Context) {
	switch step {
	case StateAuthenticated:
		fmt.Fprintf(p.w, "[%s] success: logged in as %s\n", p.prefix, wc.Value(KeyUser))
	case StateProjectResolved:
		fmt.Fprintf(p.w, "[%s] success: project %s\n", p.prefix, wc.ProjectID())
	case StateEnvironmentResolved:
		fmt.Fprintf(p.w, "[%s] success: environment %s\n", p.prefix, wc.EnvironmentID())
	case StateSubmitted:
		fmt.Fprintf(p.w, "[%s] success: application %s\n", p.prefix, wc.ApplicationID())
	case StateDomainConfigured:
		fmt.Fprintf(p.w, "[%s] success: domain %s\n", p.prefix, wc.Value(KeyDomain))
	case StateDeployed:
		fmt.Fprintf(p.w, "[%s] success: deployment %s finished\n", p.prefix, wc.DeploymentID())
	default:
		fmt.Fprintf(p.w, "[%s] success: %s\n", p.prefix, StepLabel(step))
	}
}

func (p *ProgressWriter) StepFailed(step State, err error) {
	fmt.Fprintf(p.w, "[%s] error: %s: %v\n", p.prefix, StepLabel(step), err)
}

func (p *ProgressWriter) Note(msg string) {
	fmt.Fprintf(p.w, "[%s] note: %s\n", p.prefix, msg)
}

// LogDebug logs a debug message (only if debug is enabled)
func (p *ProgressWriter) LogDebug(msg string) {
	if p.debug {
		fmt.Fprintf(p.w, "[%s] debug: %s\n", p.prefix, msg)
	}
}

// LogDuration logs the elapsed time
func (p *ProgressWriter) LogDuration() {
	fmt.Fprintf(p.w, "[%s] completed in %s\n", p.prefix, formatDuration(time.Since(p.startTime)))
}

// StepLabel renders a state name for people, e.g. "Project Resolved".
func StepLabel(s State) string {
	var b strings.Builder
	for i, r := range string(s) {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte(' ')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return cases.Title(language.English).String(b.String())
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", hours, mins)
}

// DisplayResult prints the outcome of a run in a human-readable format
func DisplayResult(w io.Writer, res *Result) {
	fmt.Fprintln(w)
	if !res.Success() {
		fmt.Fprintf(w, "=== Deployment Failed at %s ===\n", StepLabel(res.FailedStep))
		if res.Err != nil {
			fmt.Fprintln(w)
			fmt.Fprintln(w, "Errors:")
			fmt.Fprintf(w, "  - %v\n", res.Err)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Resources created before the failure are left in place.")
		return
	}

	fmt.Fprintln(w, "=== Deployment Completed Successfully ===")
	fmt.Fprintln(w)
	wc := res.Context
	fmt.Fprintf(w, "Project:      %s\n", wc.ProjectID())
	fmt.Fprintf(w, "Environment:  %s\n", wc.EnvironmentID())
	fmt.Fprintf(w, "Application:  %s\n", wc.ApplicationID())
	if d := wc.DeploymentID(); d != "" {
		fmt.Fprintf(w, "Deployment:   %s\n", d)
	}
	if d := wc.Value(KeyDomain); d != "" {
		fmt.Fprintf(w, "Domain:       %s\n", d)
	}
	fmt.Fprintf(w, "Final state:  %s\n", StepLabel(res.State))
	fmt.Fprintf(w, "Duration:     %s\n", formatDuration(res.Elapsed))
}
