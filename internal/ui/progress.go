package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/espctl/espctl/internal/discovery"
)

// StepStatus represents the current state of a step
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepComplete
	StepFailed
	StepSkipped
)

// Step is one line of a step list
type Step struct {
	Number  int
	Name    string
	Status  StepStatus
	Message string // e.g., "found 192.168.0.37"
}

// Progress renders a bar followed by a step list.
type Progress struct {
	Label     string
	Steps     []Step
	Current   int
	Total     int
	Percent   float64 // 0.0 - 1.0
	Width     int
	ShowBar   bool
	ShowSteps bool
	bar       progress.Model
}

// NewProgress creates a progress display with totalSteps pending steps
func NewProgress(label string, totalSteps int) *Progress {
	steps := make([]Step, totalSteps)
	for i := range steps {
		steps[i] = Step{Number: i + 1, Status: StepPending}
	}
	p := &Progress{
		Label:     label,
		Steps:     steps,
		Total:     totalSteps,
		ShowBar:   true,
		ShowSteps: true,
	}
	return p.SetWidth(GetTerminalWidth())
}

// NewScanProgress renders a finished sweep: one step per batch, completed
// up to the batch that ended the sweep and skipped after it.
func NewScanProgress(cfg discovery.Config, report *discovery.Report) *Progress {
	rounds := cfg.Rounds()
	p := NewProgress(fmt.Sprintf("Scanning %s.%d-%d", cfg.Prefix, cfg.Start, cfg.End), rounds)

	names := make([]string, rounds)
	for i := range names {
		first := cfg.Start + i*cfg.BatchSize
		last := first + cfg.BatchSize - 1
		if last > cfg.End {
			last = cfg.End
		}
		names[i] = fmt.Sprintf("Hosts %d-%d", first, last)
	}
	p.SetStepNames(names)

	for i := 1; i <= rounds; i++ {
		switch {
		case i < report.Rounds:
			p.CompleteStep(i, "")
		case i == report.Rounds && report.Found && report.Source == discovery.SourceSweep:
			p.CompleteStep(i, "found "+report.Address)
		case i == report.Rounds && report.Canceled:
			p.FailStep(i, "canceled")
		case i == report.Rounds:
			p.CompleteStep(i, "")
		default:
			p.UpdateStep(i, StepSkipped, "")
		}
	}
	if report.Found {
		p.Percent = 1
	}
	return p
}

// SetWidth sets the terminal width and resizes the bar
func (p *Progress) SetWidth(width int) *Progress {
	p.Width = width
	barWidth := width - 20 // Leave room for percentage and step count
	if barWidth < 20 {
		barWidth = 20
	}
	if barWidth > 50 {
		barWidth = 50
	}
	p.bar = progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(barWidth),
	)
	return p
}

// SetStepNames sets the names for all steps
func (p *Progress) SetStepNames(names []string) *Progress {
	for i, name := range names {
		if i < len(p.Steps) {
			p.Steps[i].Name = name
		}
	}
	return p
}

// UpdateStep updates a specific step's status and optional message
func (p *Progress) UpdateStep(stepNumber int, status StepStatus, message string) {
	if stepNumber < 1 || stepNumber > len(p.Steps) {
		return
	}
	p.Steps[stepNumber-1].Status = status
	p.Steps[stepNumber-1].Message = message

	if status == StepRunning || status == StepComplete || status == StepFailed {
		p.Current = stepNumber
	}
	completed := 0
	for _, s := range p.Steps {
		if s.Status == StepComplete || s.Status == StepSkipped {
			completed++
		}
	}
	if p.Total > 0 {
		p.Percent = float64(completed) / float64(p.Total)
	}
}

// CompleteStep marks a step as complete
func (p *Progress) CompleteStep(stepNumber int, message string) {
	p.UpdateStep(stepNumber, StepComplete, message)
}

// FailStep marks a step as failed
func (p *Progress) FailStep(stepNumber int, message string) {
	p.UpdateStep(stepNumber, StepFailed, message)
}

// StartStep marks a step as running
func (p *Progress) StartStep(stepNumber int, message string) {
	p.UpdateStep(stepNumber, StepRunning, message)
}

// Render returns the styled progress display as a string
func (p *Progress) Render() string {
	var b strings.Builder

	if p.Label != "" {
		b.WriteString(ProgressLabelStyle.Render(p.Label))
		b.WriteString("\n\n")
	}
	if p.ShowBar {
		b.WriteString(p.renderProgressBar())
		b.WriteString("\n\n")
	}
	if p.ShowSteps {
		lines := make([]string, 0, len(p.Steps))
		for _, step := range p.Steps {
			lines = append(lines, p.renderStepLine(step))
		}
		b.WriteString(strings.Join(lines, "\n"))
	}
	return b.String()
}

func (p *Progress) renderProgressBar() string {
	return lipgloss.NewStyle().
		PaddingLeft(2).
		Render(fmt.Sprintf("%s  %3.0f%%  [%d/%d]", p.bar.ViewAs(p.Percent), p.Percent*100, p.Current, p.Total))
}

func (p *Progress) renderStepLine(step Step) string {
	var (
		marker string
		style  lipgloss.Style
	)
	switch step.Status {
	case StepComplete:
		marker, style = StepMarkerComplete, StepCompleteStyle
	case StepRunning:
		marker, style = StepMarkerRunning, StepRunningStyle
	case StepFailed:
		marker, style = FailureMarker, ErrorTitleStyle
	case StepSkipped:
		marker, style = StepMarkerSkipped, StepPendingStyle
	default:
		marker, style = StepMarkerPending, StepPendingStyle
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("  [%d/%d] ", step.Number, p.Total))
	b.WriteString(style.Render(step.Name))

	// Markers line up at a fixed column
	padding := 30 - lipgloss.Width(step.Name)
	if padding < 1 {
		padding = 1
	}
	b.WriteString(strings.Repeat(" ", padding))
	b.WriteString(style.Render(marker))

	if step.Message != "" {
		b.WriteString("  ")
		b.WriteString(StepNoteStyle.Render("(" + step.Message + ")"))
	}
	return b.String()
}

// String implements fmt.Stringer
func (p *Progress) String() string {
	return p.Render()
}
