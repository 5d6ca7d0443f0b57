package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/docconnect/videocall/internal/call"
	"github.com/docconnect/videocall/internal/media"
)

const refreshInterval = 500 * time.Millisecond

// Controller is the part of a call session the view drives.
type Controller interface {
	Snapshot() call.Snapshot
	StartCall(ctx context.Context, target string, initiator bool) error
	ForceConnect(ctx context.Context, target string) error
	EndCall()
	ToggleMicrophone() bool
	ToggleVideo() bool
}

type snapshotMsg call.Snapshot

type actionMsg struct {
	action string
	err    error
}

type refreshMsg time.Time

// CallModel is the Bubble Tea model for an active call.
type CallModel struct {
	ctx       context.Context
	ctl       Controller
	snapshots <-chan call.Snapshot
	snap      call.Snapshot
	spinner   spinner.Model
	status    string
	quitting  bool
}

// NewCallModel creates the view. Snapshots pushed on snapshots are shown
// as they arrive; the controller is also polled periodically.
func NewCallModel(ctx context.Context, ctl Controller, snapshots <-chan call.Snapshot) *CallModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &CallModel{
		ctx:       ctx,
		ctl:       ctl,
		snapshots: snapshots,
		snap:      ctl.Snapshot(),
		spinner:   s,
	}
}

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForSnapshot(), refresh())
}

func (m *CallModel) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		select {
		case s := <-m.snapshots:
			return snapshotMsg(s)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg.String())

	case snapshotMsg:
		m.apply(call.Snapshot(msg))
		return m, m.waitForSnapshot()

	case refreshMsg:
		m.apply(m.ctl.Snapshot())
		if m.quitting {
			return m, nil
		}
		return m, refresh()

	case actionMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		} else {
			m.status = ""
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *CallModel) apply(s call.Snapshot) {
	if s.Seq >= m.snap.Seq {
		m.snap = s
	}
}

func (m *CallModel) handleKey(key string) tea.Cmd {
	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		return tea.Quit

	case "m":
		m.ctl.ToggleMicrophone()
		m.apply(m.ctl.Snapshot())

	case "v":
		m.ctl.ToggleVideo()
		m.apply(m.ctl.Snapshot())

	case "c":
		target := m.peer()
		if target == "" {
			m.status = "Nobody else is in the room yet"
			return nil
		}
		m.status = "Calling..."
		return m.run("call", func() error { return m.ctl.StartCall(m.ctx, target, true) })

	case "f":
		target := m.peer()
		if target == "" {
			m.status = "Nobody else is in the room yet"
			return nil
		}
		m.status = "Reconnecting..."
		return m.run("force connect", func() error { return m.ctl.ForceConnect(m.ctx, target) })

	case "e":
		return m.run("end call", func() error { m.ctl.EndCall(); return nil })
	}
	return nil
}

func (m *CallModel) run(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{action: action, err: fn()}
	}
}

// peer returns the current target, or the first other participant.
func (m *CallModel) peer() string {
	if m.snap.Target != "" {
		return m.snap.Target
	}
	if len(m.snap.Participants) > 0 {
		return m.snap.Participants[0].ConnectionID
	}
	return ""
}

func (m *CallModel) View() string {
	if m.quitting {
		return ""
	}
	s := m.snap

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s %s  %s\n\n", IconRoom, TitleStyle.Render(orDash(s.RoomID)), stateBadge(s.State))

	if s.State == call.Connecting {
		fmt.Fprintf(&b, "%s Negotiating with %s\n\n", m.spinner.View(), BoldStyle.Render(s.Target))
	}

	b.WriteString(BoldStyle.Render("You") + "  ")
	b.WriteString(toggleIcon(s.MicEnabled, IconMicOn, IconMicOff) + " " + toggleIcon(s.VideoEnabled, IconCamOn, IconCamOff))
	if s.LocalStream == nil {
		b.WriteString(MutedStyle.Render("  no local media"))
	}
	b.WriteString("\n")

	b.WriteString(m.viewPeer())

	if len(s.Participants) > 0 {
		b.WriteString("\n" + MutedStyle.Render("In room:") + "\n")
		for _, p := range s.Participants {
			fmt.Fprintf(&b, "  %s %s %s\n", IconPeer, p.UserID, MutedStyle.Render(shortID(p.ConnectionID)))
		}
	}

	if s.LastError != nil {
		b.WriteString("\n" + ErrorStyle.Render(IconError+" "+s.LastError.Error()) + "\n")
	}
	if m.status != "" {
		b.WriteString("\n" + WarningStyle.Render(m.status) + "\n")
	}

	b.WriteString("\n" + MutedStyle.Render("m mic • v video • c call • f force connect • e end • q leave"))
	return BoxStyle.Render(b.String())
}

func (m *CallModel) viewPeer() string {
	s := m.snap
	var b strings.Builder
	b.WriteString(BoldStyle.Render("Peer") + " ")
	if s.Target == "" {
		b.WriteString(MutedStyle.Render("none") + "\n")
		return b.String()
	}
	b.WriteString(" ")
	if s.RemoteMediaKnown {
		b.WriteString(toggleIcon(s.RemoteMic, IconMicOn, IconMicOff) + " " + toggleIcon(s.RemoteVideo, IconCamOn, IconCamOff) + " ")
	}
	b.WriteString(MutedStyle.Render(shortID(s.Target)) + "\n")

	if s.RemoteStream == nil {
		return b.String()
	}
	for _, t := range s.RemoteStream.Tracks() {
		b.WriteString("  " + trackLine(t) + "\n")
	}
	return b.String()
}

func trackLine(t *media.RemoteTrack) string {
	st := t.Stats()
	line := fmt.Sprintf("%-5s %-10s %6d pkts %8s lost %d", t.Kind, t.MimeType, st.Packets, formatBytes(st.Bytes), st.Lost)
	if st.Packets == 0 {
		return MutedStyle.Render(line)
	}
	return line
}

func stateBadge(s call.ConnectionState) string {
	var bg lipgloss.Color
	switch s {
	case call.Connected:
		bg = Success
	case call.Connecting:
		bg = Warning
	case call.Failed:
		bg = Error
	default:
		bg = Muted
	}
	return badge(strings.ToUpper(s.String()), bg)
}

func toggleIcon(on bool, yes, no string) string {
	if on {
		return yes
	}
	return no
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// RunCall runs the call view until the user quits or ctx is done.
func RunCall(ctx context.Context, model *CallModel) error {
	_, err := tea.NewProgram(model, tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
