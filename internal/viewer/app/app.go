// Package app is the Bubble Tea model of the terminal viewer.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/glyphcast/glyphcast/internal/frame"
	"github.com/glyphcast/glyphcast/internal/history"
	"github.com/glyphcast/glyphcast/internal/procstats"
	"github.com/glyphcast/glyphcast/internal/viewer/client"
	"github.com/glyphcast/glyphcast/internal/viewer/render"
	"github.com/glyphcast/glyphcast/internal/viewer/theme"
	"github.com/glyphcast/glyphcast/internal/viewer/views/debug"
	"github.com/glyphcast/glyphcast/internal/viewer/views/status"
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayPrompt
	OverlayDebug
	OverlayInfo
)

// fpsSmoothing weights the newest inter-frame interval in the running rate.
const fpsSmoothing = 0.2

// Options configures the viewer.
type Options struct {
	// Watch is requested once the first connection is up.
	Watch string
	// Now is the clock used for frame-rate tracking.
	Now func() time.Time
}

// infoMsg carries the result of the server info fetch.
type infoMsg struct {
	stats   *procstats.Stats
	history []history.Entry
	err     error
}

// Model is the root Bubble Tea model.
type Model struct {
	ws     *client.WSClient
	http   *client.HTTPClient
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time

	keys   KeyMap
	width  int
	height int

	frame     *frame.Frame
	lastFrame time.Time
	fps       float64

	statusBar status.Model
	debug     debug.Model
	input     textinput.Model
	overlay   Overlay

	info    infoMsg
	loading bool

	pendingWatch string
	lastWatch    string
	lastError    string

	connected bool
}

// New creates the root model.
func New(ws *client.WSClient, http *client.HTTPClient, opts Options) Model {
	ctx, cancel := context.WithCancel(context.Background())
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	input := textinput.New()
	input.Placeholder = "synthetic://bars or a video URL"
	input.Prompt = "watch › "
	input.CharLimit = 2048

	server := ""
	if ws != nil {
		server = ws.URL()
	}
	return Model{
		ws:           ws,
		http:         http,
		ctx:          ctx,
		cancel:       cancel,
		now:          now,
		keys:         DefaultKeyMap(),
		statusBar:    status.New(server),
		debug:        debug.New(),
		input:        input,
		pendingWatch: strings.TrimSpace(opts.Watch),
	}
}

// Init starts the websocket connection.
func (m Model) Init() tea.Cmd {
	if m.ws == nil {
		return nil
	}
	return m.ws.Listen(m.ctx, 0)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.input.Width = max(msg.Width-12, 10)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case client.ConnectedMsg:
		m.connected = true
		m.statusBar.Connected = true
		m.debug.Add(debug.KindConn, "connected to "+m.statusBar.Server)
		if m.pendingWatch != "" {
			m.sendWatch(m.pendingWatch)
			m.pendingWatch = ""
		}
		return m, m.ws.ReadLoop(m.ctx)

	case client.DialFailedMsg:
		m.debug.Addf(debug.KindError, "dial failed: %v (retry in %v)", msg.Err, msg.Delay)
		return m, m.ws.Listen(m.ctx, msg.Delay)

	case client.DisconnectedMsg:
		m.connected = false
		m.statusBar.Connected = false
		m.fps = 0
		m.statusBar.FPS = 0
		m.debug.Addf(debug.KindConn, "disconnected: %v", msg.Err)
		if m.ctx.Err() != nil {
			return m, nil
		}
		return m, m.ws.Listen(m.ctx, client.NextDelay(0))

	case client.FrameMsg:
		m.trackFrame()
		m.frame = msg.Frame
		return m, m.ws.ReadLoop(m.ctx)

	case client.BadFrameMsg:
		m.debug.Addf(debug.KindError, "bad frame: %v", msg.Err)
		return m, m.ws.ReadLoop(m.ctx)

	case client.StatusMsg:
		m.applyStatus(msg)
		return m, m.ws.ReadLoop(m.ctx)

	case client.ErrorMsg:
		m.lastError = msg.Payload.Message
		m.debug.Addf(debug.KindError, "%s: %s", msg.Payload.Code, msg.Payload.Message)
		return m, m.ws.ReadLoop(m.ctx)

	case infoMsg:
		m.info = msg
		m.loading = false
		if msg.err != nil {
			m.debug.Addf(debug.KindError, "server info: %v", msg.err)
		}
		return m, nil
	}

	if m.overlay == OverlayPrompt {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) applyStatus(msg client.StatusMsg) {
	p := msg.Payload
	m.statusBar.Status = p
	switch p.Event {
	case "started":
		m.frame = nil
		m.lastError = ""
		m.fps = 0
		m.statusBar.FPS = 0
		url := ""
		if p.Session != nil {
			url = p.Session.URL
		}
		m.debug.Addf(debug.KindStatus, "#%d started %s", msg.Seq, url)
	case "ended":
		m.debug.Addf(debug.KindStatus, "#%d ended: %s", msg.Seq, p.Reason)
		if p.Reason != "" && p.Reason != "replaced" {
			m.lastError = p.Reason
		}
	case "":
	default:
		m.debug.Addf(debug.KindStatus, "#%d %s, %d watching", msg.Seq, p.Event, p.Viewers)
	}
}

func (m *Model) trackFrame() {
	now := m.now()
	if !m.lastFrame.IsZero() {
		if dt := now.Sub(m.lastFrame).Seconds(); dt > 0 {
			rate := 1 / dt
			if m.fps == 0 {
				m.fps = rate
			} else {
				m.fps += fpsSmoothing * (rate - m.fps)
			}
		}
	}
	m.lastFrame = now
	m.statusBar.FPS = m.fps
}

func (m *Model) sendWatch(url string) {
	m.lastWatch = url
	if m.ws == nil {
		m.debug.Add(debug.KindError, "watch: not connected")
		return
	}
	if err := m.ws.Watch(url); err != nil {
		m.debug.Addf(debug.KindError, "watch %s: %v", url, err)
		return
	}
	m.debug.Add(debug.KindWatch, "watch "+url)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.overlay {
	case OverlayPrompt:
		switch {
		case msg.Type == tea.KeyCtrlC:
			m.cancel()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Escape):
			m.overlay = OverlayNone
			m.input.Blur()
			return m, nil
		case key.Matches(msg, m.keys.Enter):
			url := strings.TrimSpace(m.input.Value())
			m.overlay = OverlayNone
			m.input.Blur()
			m.input.Reset()
			if url != "" {
				m.sendWatch(url)
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case OverlayDebug:
		switch {
		case key.Matches(msg, m.keys.Escape), key.Matches(msg, m.keys.Debug):
			m.overlay = OverlayNone
		case key.Matches(msg, m.keys.Up):
			m.debug.ScrollUp(1)
		case key.Matches(msg, m.keys.Down):
			m.debug.ScrollDown(1)
		case key.Matches(msg, m.keys.Quit):
			m.cancel()
			return m, tea.Quit
		}
		return m, nil

	case OverlayInfo:
		switch {
		case key.Matches(msg, m.keys.Escape), key.Matches(msg, m.keys.Info):
			m.overlay = OverlayNone
		case key.Matches(msg, m.keys.Quit):
			m.cancel()
			return m, tea.Quit
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		if m.ws != nil {
			m.ws.Close()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Watch):
		m.overlay = OverlayPrompt
		m.input.SetValue(m.lastWatch)
		m.input.CursorEnd()
		return m, m.input.Focus()

	case key.Matches(msg, m.keys.Replay):
		if m.lastWatch != "" {
			m.sendWatch(m.lastWatch)
		}
		return m, nil

	case key.Matches(msg, m.keys.Debug):
		m.overlay = OverlayDebug
		return m, nil

	case key.Matches(msg, m.keys.Info):
		m.overlay = OverlayInfo
		if m.http == nil {
			return m, nil
		}
		m.loading = true
		return m, fetchInfo(m.ctx, m.http)
	}
	return m, nil
}

func fetchInfo(ctx context.Context, c *client.HTTPClient) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		var out infoMsg
		if st, err := c.GetStats(ctx); err == nil {
			out.stats = st
		} else {
			out.err = err
		}
		entries, err := c.GetHistory(ctx, 5)
		if err == nil {
			out.history = entries
		} else if out.err == nil {
			out.err = err
		}
		return out
	}
}

// View renders the full viewer.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	bar := m.statusBar.View()
	footer := m.footer()
	bodyH := max(m.height-lipgloss.Height(bar)-lipgloss.Height(footer), 1)

	var body string
	switch m.overlay {
	case OverlayDebug:
		body = m.debug.View(m.width, bodyH)
	case OverlayInfo:
		body = m.infoView()
	case OverlayPrompt:
		body = theme.StyleBorder.Width(max(m.width-4, 20)).Render(m.input.View())
	default:
		body = m.screen(bodyH)
	}

	return lipgloss.JoinVertical(lipgloss.Left, bar, body, footer)
}

func (m Model) screen(rows int) string {
	if !m.connected {
		msg := lipgloss.JoinVertical(lipgloss.Center,
			lipgloss.NewStyle().Bold(true).Foreground(theme.ColorDanger).Render("DISCONNECTED"),
			theme.StyleDimmed.Render("Reconnecting to "+m.statusBar.Server+"..."),
		)
		return lipgloss.Place(m.width, rows, lipgloss.Center, lipgloss.Center, msg)
	}
	if m.frame == nil {
		hint := "Press w to watch a URL."
		if m.statusBar.Status.Session != nil {
			hint = "Waiting for the first frame..."
		}
		lines := []string{theme.StyleDimmed.Render(hint)}
		if m.lastError != "" {
			lines = append(lines, theme.StyleError.Render(m.lastError))
		}
		return lipgloss.Place(m.width, rows, lipgloss.Center, lipgloss.Center,
			lipgloss.JoinVertical(lipgloss.Center, lines...))
	}
	return lipgloss.PlaceHorizontal(m.width, lipgloss.Center, render.Grid(m.frame, m.width, rows))
}

func (m Model) infoView() string {
	lines := []string{theme.StyleHeader.Render(" SERVER ")}
	switch {
	case m.loading:
		lines = append(lines, theme.StyleDimmed.Render("loading..."))
	case m.info.stats != nil:
		st := m.info.stats
		lines = append(lines, fmt.Sprintf("pid %d  cpu %.1f%%  rss %.1f MiB  threads %d  goroutines %d  up %s",
			st.PID, st.CPUPercent, float64(st.RSSBytes)/(1<<20), st.Threads, st.Goroutines,
			(time.Duration(st.UptimeSeconds)*time.Second).String()))
	}
	if len(m.info.history) > 0 {
		lines = append(lines, "", theme.StyleHeader.Render(" RECENT "))
		for _, e := range m.info.history {
			ended := "running"
			if e.EndedAt != nil {
				ended = e.Duration().Round(time.Second).String()
				if e.EndReason != "" {
					ended += " (" + e.EndReason + ")"
				}
			}
			lines = append(lines, fmt.Sprintf("%s  %s  %s", e.StartedAt.Local().Format("Jan 02 15:04"), e.URL, ended))
		}
	}
	if m.info.err != nil {
		lines = append(lines, "", theme.StyleError.Render(m.info.err.Error()))
	}
	lines = append(lines, "", theme.StyleDimmed.Render("esc:close"))
	return theme.StyleBorder.Width(max(m.width-4, 20)).Padding(0, 1).Render(strings.Join(lines, "\n"))
}

func (m Model) footer() string {
	parts := make([]string, 0, len(m.keys.Help()))
	for _, b := range m.keys.Help() {
		h := b.Help()
		parts = append(parts, h.Key+":"+h.Desc)
	}
	return theme.StyleDimmed.Render("  " + strings.Join(parts, "  "))
}
