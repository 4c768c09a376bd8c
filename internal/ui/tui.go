package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer shows a live bubbletea panel while a build runs.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *buildModel
	tracker *BuildTracker
	started bool
	done    chan struct{}
}

// NewTUIRenderer fails when the output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}
	tracker := NewBuildTracker()
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   newBuildModel(tracker, cfg.Title, GetStyles(cfg.NoColor)),
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.tracker.Update(event)
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.tracker.AddError(event)
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer. It waits briefly for the program to exit.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	program := r.program
	r.mu.Unlock()
	if program == nil {
		return nil
	}

	select {
	case <-r.done:
		return nil
	case <-time.After(200 * time.Millisecond):
	}
	program.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

type completeMsg CompletionStats
type tickMsg time.Time

// buildModel is the bubbletea model. It polls the tracker on a tick
// instead of receiving every update as a message.
type buildModel struct {
	tracker  *BuildTracker
	title    string
	styles   Styles
	spinner  spinner.Model
	width    int
	quitting bool
	complete bool
	stats    CompletionStats
}

func newBuildModel(tracker *BuildTracker, title string, styles Styles) *buildModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Active
	return &buildModel{
		tracker: tracker,
		title:   title,
		styles:  styles,
		spinner: s,
		width:   80,
	}
}

// Init implements tea.Model.
func (m *buildModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m *buildModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *buildModel) View() string {
	if m.quitting {
		return "Detached.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	width := max(m.width-4, 40)
	st := m.tracker.Stats()

	lines := []string{
		m.renderStages(st.Stage),
		m.styles.Border.Render(strings.Repeat("─", width)),
		fmt.Sprintf("%s %s   %s %s   %s %s",
			m.styles.Label.Render("records"), m.styles.Value.Render(fmt.Sprintf("%d", st.Records)),
			m.styles.Label.Render("skipped"), m.styles.Value.Render(fmt.Sprintf("%d", st.Skipped)),
			m.styles.Label.Render("elapsed"), m.styles.Value.Render(formatDuration(st.Elapsed))),
		m.styles.Label.Render(fmt.Sprintf("rate %.0f/s (avg %.0f, peak %.0f)", st.Rate.Current, st.Rate.Avg, st.Rate.Peak)),
		m.styles.Spark.Render(m.tracker.RenderSparkline(width-16)) + " " + m.styles.Dim.Render("throughput"),
	}
	if st.Root != "" {
		lines = append(lines, m.styles.Dim.Render(truncatePath(st.Root, width)))
	}
	if st.Errors > 0 || st.Warnings > 0 {
		lines = append(lines, fmt.Sprintf("%s  %s",
			m.styles.Error.Render(fmt.Sprintf("%d errors", st.Errors)),
			m.styles.Warning.Render(fmt.Sprintf("%d warnings", st.Warnings))))
	}

	title := "amanfind index"
	if m.title != "" {
		title += " • " + m.title
	}
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(width)
	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		panel.Render(strings.Join(lines, "\n")),
		m.styles.Dim.Render("q to detach"),
	) + "\n"
}

func (m *buildModel) renderStages(current Stage) string {
	stages := []Stage{StageCrawling, StageCommitting, StageVerifying, StageSwapping}
	parts := make([]string, 0, len(stages))
	for _, s := range stages {
		switch {
		case s < current:
			parts = append(parts, m.styles.Success.Render("● "+s.String()))
		case s == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+s.String()))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.String()))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *buildModel) renderComplete() string {
	lines := []string{
		m.styles.Success.Render("✓ Index built"),
		"",
		fmt.Sprintf("%s  %s", m.styles.Label.Render("Records: "), m.styles.Active.Render(fmt.Sprintf("%d", m.stats.Records))),
		fmt.Sprintf("%s  %s", m.styles.Label.Render("Skipped: "), m.styles.Value.Render(fmt.Sprintf("%d", m.stats.Skipped))),
		fmt.Sprintf("%s  %s", m.styles.Label.Render("Duration:"), m.styles.Value.Render(formatDuration(m.stats.Duration))),
	}
	if avg := m.tracker.Stats().Rate.Avg; avg > 0 {
		lines = append(lines, fmt.Sprintf("%s  %s", m.styles.Label.Render("Avg rate:"), m.styles.Value.Render(fmt.Sprintf("%.0f records/sec", avg))))
	}
	if m.stats.FailedRoots > 0 {
		lines = append(lines, "", m.styles.Warning.Render(fmt.Sprintf("%d roots could not be read", m.stats.FailedRoots)))
	}
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorGreen)).
		Padding(1, 2).
		Width(max(m.width-4, 40))
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration renders d as 42s, 3m 5s or 1h 2m.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		m, s := int(d.Minutes()), int(d.Seconds())%60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// truncatePath keeps the tail of path within maxLen.
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	if maxLen <= 3 {
		return "..."
	}
	return "..." + path[len(path)-maxLen+3:]
}

var _ Renderer = (*TUIRenderer)(nil)
