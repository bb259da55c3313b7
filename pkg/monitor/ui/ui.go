package ui

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	log "github.com/sirupsen/logrus"
	"github.com/xeonx/timeago"

	"github.com/helvethink/pullpilot/pkg/monitor"
	"github.com/helvethink/pullpilot/pkg/monitor/client"
	"github.com/helvethink/pullpilot/pkg/schemas"
)

// tab represents the type for tab identifiers.
type tab string

const (
	tabTelemetry tab = "telemetry" // Tab identifier for telemetry view
	tabConfig    tab = "config"    // Tab identifier for configuration view
)

var tabs = [...]tab{
	tabTelemetry,
	tabConfig,
}

// Styling variables for UI elements
var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}

	dataStyle = lipgloss.NewStyle().
			MarginLeft(1).
			MarginRight(5).
			Padding(0, 1).
			Bold(true).
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#a9a9a9"))

	// Tab styling
	activeTabBorder = lipgloss.Border{
		Top: "─", Bottom: " ", Left: "│", Right: "│",
		TopLeft: "╭", TopRight: "╮", BottomLeft: "┘", BottomRight: "└",
	}

	tabBorder = lipgloss.Border{
		Top: "─", Bottom: "─", Left: "│", Right: "│",
		TopLeft: "╭", TopRight: "╮", BottomLeft: "┴", BottomRight: "┴",
	}

	inactiveTab = lipgloss.NewStyle().
			Border(tabBorder, true).
			BorderForeground(highlight).
			Padding(0, 1)

	activeTab = inactiveTab.Copy().Border(activeTabBorder, true)

	tabGap = inactiveTab.Copy().
		BorderTop(false).
		BorderLeft(false).
		BorderRight(false)

	// List styling
	entityStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(subtle)

	// Status Bar styling
	statusStyle = lipgloss.NewStyle().
			Inherit(statusBarStyle).
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#003d80")).
			Padding(0, 1).
			MarginRight(1)

	statusNugget = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#343433", Dark: "#C1C6B2"}).
			Background(lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#353533"})

	statusText = lipgloss.NewStyle().Inherit(statusBarStyle)

	versionStyle = statusNugget.Copy().
			Background(lipgloss.Color("#0062cc"))

	// Page styling
	docStyle = lipgloss.NewStyle()
)

// model represents the application model for the UI.
type model struct {
	version         string
	client          *client.Client
	vp              viewport.Model
	progress        *progress.Model
	telemetry       *monitor.Telemetry
	telemetryStream <-chan monitor.Telemetry
	errStream       <-chan error
	lastErr         error
	tabID           int
}

type errMsg struct{ err error }

// renderConfigViewport renders the configuration viewport content.
func (m *model) renderConfigViewport() string {
	config, err := m.client.GetConfig(context.TODO())
	if err != nil {
		return "\nunable to fetch the configuration: " + err.Error()
	}

	return config
}

// renderTelemetryViewport renders the telemetry viewport content.
func (m *model) renderTelemetryViewport() string {
	if m.telemetry == nil {
		if m.lastErr != nil {
			return "\nunable to fetch telemetry: " + m.lastErr.Error()
		}
		return "\nloading data.."
	}

	runtimeUsage := lipgloss.JoinHorizontal(
		lipgloss.Top,
		" Runtime commands usage  ",
		m.progress.ViewAs(m.telemetry.RuntimeUsage),
		"\n",
	)

	runtimeCommandsCount := lipgloss.JoinHorizontal(
		lipgloss.Top,
		" Runtime commands       ",
		dataStyle.SetString(strconv.FormatUint(m.telemetry.RuntimeCommandsCount, 10)).String(),
		"\n",
	)

	tasksBufferUsage := lipgloss.JoinHorizontal(
		lipgloss.Top,
		" Tasks buffer usage      ",
		m.progress.ViewAs(m.telemetry.TasksBufferUsage),
		"\n",
	)

	tasksExecuted := lipgloss.JoinHorizontal(
		lipgloss.Top,
		" Tasks executed         ",
		dataStyle.SetString(strconv.FormatUint(m.telemetry.TasksExecutedCount, 10)).String(),
		"\n",
	)

	return strings.Join([]string{
		"",
		runtimeUsage,
		runtimeCommandsCount,
		tasksBufferUsage,
		tasksExecuted,
		renderGlobalUpdate(m.telemetry.GlobalUpdate, m.progress),
		renderEntity("Deployments", m.telemetry.Deployments),
		renderEntity("Schedules", m.telemetry.Schedules),
		renderEntity("Run logs", m.telemetry.RunLogs),
		renderNextRuns(m.telemetry.NextRuns),
	}, "\n")
}

// renderGlobalUpdate renders the progress of the global run in flight.
func renderGlobalUpdate(s schemas.RunStatus, p *progress.Model) string {
	if !s.Running {
		return entityStyle.Render(" Global update           " + dataStyle.SetString("idle").String() + "\n")
	}

	done := 0.0
	if s.Total > 0 {
		done = float64(len(s.Processed)) / float64(s.Total)
	}

	lines := []string{
		"Progress   " + p.ViewAs(done) + "\n",
		"Current    " + dataStyle.SetString(fmt.Sprintf("%d/%d %s", s.Current, s.Total, s.CurrentTarget)).String() + "\n",
		"Started    " + dataStyle.SetString(prettyTimeago(s.StartedAt)).String() + "\n",
	}

	for _, d := range s.Processed {
		lines = append(lines, fmt.Sprintf("  %-24s %s\n", d.Name, d.Outcome))
	}

	return entityStyle.Render(lipgloss.JoinHorizontal(
		lipgloss.Top,
		" Global update           ",
		lipgloss.JoinVertical(lipgloss.Left, lines...),
		"\n",
	))
}

// renderEntity renders an entity with its details.
func renderEntity(name string, e monitor.Entity) string {
	return entityStyle.Render(lipgloss.JoinHorizontal(
		lipgloss.Top,
		" "+name+strings.Repeat(" ", 24-len(name)),
		lipgloss.JoinVertical(
			lipgloss.Left,
			"Total      "+dataStyle.SetString(strconv.Itoa(int(e.Count))).String()+"\n",
			"Last       "+dataStyle.SetString(prettyTimeago(e.Last)).String()+"\n",
			"Next       "+dataStyle.SetString(prettyTimeago(e.Next)).String()+"\n",
		),
		"\n",
	))
}

// renderNextRuns renders the next fire time of every schedule, by id.
func renderNextRuns(next map[int64]time.Time) string {
	ids := make([]int64, 0, len(next))
	for id := range next {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	lines := []string{"none\n"}
	if len(ids) > 0 {
		lines = lines[:0]
	}

	for _, id := range ids {
		lines = append(lines, fmt.Sprintf("#%-8d %s\n", id, dataStyle.SetString(prettyTimeago(next[id])).String()))
	}

	return entityStyle.Render(lipgloss.JoinHorizontal(
		lipgloss.Top,
		" Upcoming schedules      ",
		lipgloss.JoinVertical(lipgloss.Left, lines...),
		"\n",
	))
}

// prettyTimeago formats a time into a human-readable string.
func prettyTimeago(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}

	return timeago.English.Format(t)
}

// newModel initializes a new model instance.
func newModel(version string, endpoint *url.URL) (m *model) {
	p := progress.New(progress.WithScaledGradient("#80c904", "#ff9d5c"))

	m = &model{
		version:  version,
		vp:       viewport.Model{},
		progress: &p,
		client:   client.NewClient(endpoint),
	}

	return
}

// Init initializes the model and returns a command to fetch telemetry data.
func (m *model) Init() tea.Cmd {
	m.telemetryStream, m.errStream = m.client.StreamTelemetry(context.TODO(), time.Second)

	return tea.Batch(
		waitForTelemetryUpdate(m.telemetryStream),
		waitForError(m.errStream),
	)
}

// Update handles messages and updates the model accordingly.
func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.vp.Width = msg.Width
		m.vp.Height = msg.Height - 4
		m.progress.Width = msg.Width - 27
		m.setPaneContent()

		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyLeft:
			if m.tabID > 0 {
				m.tabID--
				m.setPaneContent()
			}
			return m, nil
		case tea.KeyRight:
			if m.tabID < len(tabs)-1 {
				m.tabID++
				m.setPaneContent()
			}
			return m, nil
		case tea.KeyUp, tea.KeyDown, tea.KeyPgDown, tea.KeyPgUp:
			vp, cmd := m.vp.Update(msg)
			m.vp = vp
			return m, cmd
		}
	case monitor.Telemetry:
		m.telemetry = &msg
		m.lastErr = nil
		m.setPaneContent()
		return m, waitForTelemetryUpdate(m.telemetryStream)
	case errMsg:
		m.lastErr = msg.err
		log.WithError(msg.err).Debug("fetching telemetry")
		m.setPaneContent()
		return m, waitForError(m.errStream)
	}

	return m, nil
}

// View renders the UI view.
func (m *model) View() string {
	doc := strings.Builder{}

	// Render tabs
	{
		renderedTabs := []string{}
		for tabID, t := range tabs {
			if m.tabID == tabID {
				renderedTabs = append(renderedTabs, activeTab.Render(string(t)))
				continue
			}
			renderedTabs = append(renderedTabs, inactiveTab.Render(string(t)))
		}

		row := lipgloss.JoinHorizontal(lipgloss.Top, renderedTabs...)
		gap := tabGap.Render(strings.Repeat(" ", max(0, m.vp.Width-lipgloss.Width(row))))
		row = lipgloss.JoinHorizontal(lipgloss.Bottom, row, gap)
		doc.WriteString(row + "\n")
	}

	// Render pane
	{
		doc.WriteString(m.vp.View() + "\n")
	}

	// Render status bar
	{
		bar := lipgloss.JoinHorizontal(lipgloss.Top,
			statusStyle.Render("github.com/helvethink/pullpilot"),
			statusText.Copy().
				Width(max(0, m.vp.Width-(45+len(m.version)))).
				Render(""),
			versionStyle.Render(m.version),
		)

		doc.WriteString(statusBarStyle.Width(m.vp.Width).Render(bar))
	}

	return docStyle.Render(doc.String())
}

// waitForTelemetryUpdate waits for a telemetry update and returns a command.
func waitForTelemetryUpdate(t <-chan monitor.Telemetry) tea.Cmd {
	return func() tea.Msg {
		tel, ok := <-t
		if !ok {
			return nil
		}
		return tel
	}
}

// waitForError waits for a polling failure and returns a command.
func waitForError(errs <-chan error) tea.Cmd {
	return func() tea.Msg {
		return errMsg{err: <-errs}
	}
}

// Start initializes and starts the UI program.
func Start(version string, listenerAddress *url.URL) {
	if _, err := tea.NewProgram(
		newModel(version, listenerAddress),
		tea.WithAltScreen(),
	).Run(); err != nil {
		fmt.Println("Error running program:", err)
		os.Exit(1)
	}
}

// setPaneContent sets the content of the viewport pane based on the current tab.
func (m *model) setPaneContent() {
	switch tabs[m.tabID] {
	case tabTelemetry:
		m.vp.SetContent(m.renderTelemetryViewport())
	case tabConfig:
		m.vp.SetContent(m.renderConfigViewport())
	}
}
