package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/secureera/secureera/internal/transfer"
)

// Mode is the direction of a transfer.
type Mode int

const (
	ModeSend Mode = iota
	ModeReceive
)

// Controls are the actions the keyboard can trigger. Either may be nil.
type Controls struct {
	TogglePause func() error
	Cancel      func()
}

type progressMsg transfer.BatchProgress

type failedMsg struct {
	index int
	err   error
}

type stopMsg struct{}

type fileRow struct {
	name        string
	size        int64
	transferred int64
	fraction    float64
	speed       float64
	eta         time.Duration
	complete    bool
	failed      bool
	errMsg      string
}

// transferModel is the bubbletea model. All state is owned by the program
// goroutine; outside code talks to it through TransferUI.
type transferModel struct {
	mode     Mode
	controls Controls

	files      []*fileRow
	bars       []progress.Model
	totalFiles int
	overall    float64
	paused     bool
	notice     string

	spinner spinner.Model
	width   int
	done    bool
}

func newBar(width int) progress.Model {
	return progress.New(
		progress.WithGradient(ProgressStart, ProgressEnd),
		progress.WithWidth(width),
		progress.WithoutPercentage(),
	)
}

func newTransferModel(mode Mode, files []FileRow, controls Controls) *transferModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	m := &transferModel{
		mode:       mode,
		controls:   controls,
		totalFiles: len(files),
		spinner:    s,
		width:      80,
	}
	for _, f := range files {
		m.addRow(f.Name, f.Size)
	}
	return m
}

func (m *transferModel) addRow(name string, size int64) {
	m.files = append(m.files, &fileRow{name: name, size: size})
	m.bars = append(m.bars, newBar(25))
}

func (m *transferModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *transferModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "p", " ":
			if m.controls.TogglePause != nil {
				if err := m.controls.TogglePause(); err != nil {
					m.notice = err.Error()
				}
			}
		case "q", "ctrl+c":
			if m.controls.Cancel != nil {
				m.controls.Cancel()
			}
			m.notice = "Cancelled"
			m.done = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		for i := range m.bars {
			m.bars[i].Width = max(10, min(25, msg.Width-60))
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progressMsg:
		m.apply(transfer.BatchProgress(msg))

	case failedMsg:
		if msg.index >= 0 && msg.index < len(m.files) {
			m.files[msg.index].failed = true
			m.files[msg.index].errMsg = msg.err.Error()
		}
		m.notice = msg.err.Error()

	case stopMsg:
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *transferModel) apply(bp transfer.BatchProgress) {
	p := bp.File
	for p.FileIndex >= len(m.files) {
		m.addRow("", 0)
	}
	row := m.files[p.FileIndex]
	row.name = p.Name
	row.size = p.Total
	row.transferred = p.Transferred
	row.fraction = p.Fraction
	row.speed = p.Speed
	row.eta = p.ETA
	row.complete = p.Completed

	if bp.TotalFiles > m.totalFiles {
		m.totalFiles = bp.TotalFiles
	}
	m.overall = bp.Overall
	m.paused = p.Paused
}

func (m *transferModel) View() string {
	var b strings.Builder

	icon, verb := IconSend, "Sending"
	if m.mode == ModeReceive {
		icon, verb = IconReceive, "Receiving"
	}
	fmt.Fprintf(&b, "\n%s %s", icon, TitleStyle.Render(verb))
	if m.totalFiles > 0 {
		fmt.Fprintf(&b, " %s", MutedStyle.Render(fmt.Sprintf("%d file(s)", m.totalFiles)))
	}
	b.WriteString("\n\n")

	status := m.spinner.View()
	if m.paused {
		status = PausedStyle.Render(IconPause + " Paused")
	}
	fmt.Fprintf(&b, "%s Overall %5.1f%%\n\n", status, m.overall*100)

	for i, f := range m.files {
		var mark string
		nameStyle := lipgloss.NewStyle()
		switch {
		case f.failed:
			mark, nameStyle = IconError, ErrorStyle
		case f.complete:
			mark, nameStyle = IconSuccess, SuccessStyle
		case f.transferred > 0:
			mark = m.spinner.View()
		default:
			mark, nameStyle = "○", MutedStyle
		}

		fmt.Fprintf(&b, "  %s %s ", mark, nameStyle.Width(24).Render(Truncate(f.name, 22)))
		b.WriteString(m.bars[i].ViewAs(f.fraction))
		fmt.Fprintf(&b, " %5.1f%%", f.fraction*100)

		if !f.complete && !f.failed && f.speed > 0 {
			b.WriteString(MutedStyle.Render(" " + FormatSpeed(f.speed)))
			if f.eta > 0 {
				b.WriteString(MutedStyle.Render(" ETA: " + FormatDuration(f.eta)))
			}
		}
		b.WriteString(MutedStyle.Render(fmt.Sprintf(" (%s/%s)", FormatBytes(f.transferred), FormatBytes(f.size))))
		b.WriteString("\n")
	}

	if m.notice != "" {
		b.WriteString("\n" + WarningStyle.Render(m.notice) + "\n")
	}
	if !m.done {
		b.WriteString("\n" + MutedStyle.Render("p pause/resume • q cancel") + "\n")
	}
	return b.String()
}

// TransferUI runs the live progress view for one batch.
type TransferUI struct {
	program *tea.Program
	wg      sync.WaitGroup
	once    sync.Once
}

// NewTransferUI prepares a view. Senders pass their files up front;
// receivers pass nil and rows appear as metadata arrives.
func NewTransferUI(mode Mode, files []FileRow, controls Controls, opts ...tea.ProgramOption) *TransferUI {
	model := newTransferModel(mode, files, controls)
	return &TransferUI{program: tea.NewProgram(model, opts...)}
}

// Start runs the program in the background. The default inline mode keeps
// earlier terminal output visible.
func (u *TransferUI) Start() {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		if _, err := u.program.Run(); err != nil {
			PrintErrorf("UI error: %v", err)
		}
	}()
}

// Progress is a transfer progress callback.
func (u *TransferUI) Progress(bp transfer.BatchProgress) {
	u.program.Send(progressMsg(bp))
}

func (u *TransferUI) MarkFailed(index int, err error) {
	u.program.Send(failedMsg{index: index, err: err})
}

// Stop renders the final frame and waits for the program to exit.
func (u *TransferUI) Stop() {
	u.once.Do(func() {
		u.program.Send(stopMsg{})
		u.wg.Wait()
	})
}
