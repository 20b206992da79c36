package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type deviceItem struct{ deviceSummary }

func (d deviceItem) Title() string {
	if d.Product != "" {
		return d.Product
	}
	return d.DeviceID
}
func (d deviceItem) Description() string { return fmt.Sprintf("serial=%s  id=%s", d.Serial, d.DeviceID) }
func (d deviceItem) FilterValue() string { return d.DeviceID }

// model is the companion console's state: a device list, a scrolling event
// log fed by the SSE stream, and a single-line command input, in the shape
// of the teacher's list.Model + viewport.Model + textarea.Model trio.
type model struct {
	client *apiClient

	devices list.Model
	events  viewport.Model
	input   textinput.Model

	eventCh chan sseFrame
	errCh   chan error
	logs    []string

	width, height int
	status        string
	statusIsError bool
}

type devicesMsg []deviceSummary
type eventMsg sseFrame
type streamErrMsg error
type opResultMsg struct {
	op   string
	body string
	err  error
}

func initialModel(client *apiClient) model {
	devList := list.New(nil, list.NewDefaultDelegate(), 40, 12)
	devList.Title = "KeepKey devices"
	devList.SetShowStatusBar(false)
	devList.SetFilteringEnabled(false)

	vp := viewport.New(80, 12)
	vp.SetContent("waiting for events...")

	ti := textinput.New()
	ti.Placeholder = "op [payload json]  (e.g. get_features, set_label {\"label\":\"vault\"})"
	ti.CharLimit = 256

	return model{
		client:  client,
		devices: devList,
		events:  vp,
		input:   ti,
		eventCh: make(chan sseFrame, 64),
		errCh:   make(chan error, 1),
		width:   80,
		height:  24,
	}
}

func (m model) Init() tea.Cmd {
	go m.client.streamEvents(m.eventCh, m.errCh)
	return tea.Batch(fetchDevices(m.client), waitForEvent(m.eventCh), waitForStreamErr(m.errCh), textinput.Blink)
}

func fetchDevices(client *apiClient) tea.Cmd {
	return func() tea.Msg {
		devices, err := client.listDevices()
		if err != nil {
			return streamErrMsg(err)
		}
		return devicesMsg(devices)
	}
}

func waitForEvent(ch chan sseFrame) tea.Cmd {
	return func() tea.Msg { return eventMsg(<-ch) }
}

func waitForStreamErr(ch chan error) tea.Cmd {
	return func() tea.Msg {
		err := <-ch
		return streamErrMsg(err)
	}
}

func (m model) selectedDeviceID() string {
	if item, ok := m.devices.SelectedItem().(deviceItem); ok {
		return item.DeviceID
	}
	return ""
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.devices.SetSize(msg.Width/2-2, msg.Height-6)
		m.events.Width = msg.Width/2 - 2
		m.events.Height = msg.Height - 6
		m.input.Width = msg.Width - 4

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "tab":
			if m.input.Focused() {
				m.input.Blur()
			} else {
				cmds = append(cmds, m.input.Focus())
			}
		case "ctrl+y":
			if id := m.selectedDeviceID(); id != "" {
				_ = clipboard.WriteAll(id)
				m.status = "copied device id to clipboard"
			}
		case "enter":
			if m.input.Focused() && m.input.Value() != "" {
				cmds = append(cmds, m.runCommand(m.input.Value()))
				m.input.SetValue("")
			}
		}

	case devicesMsg:
		items := make([]list.Item, len(msg))
		for i, d := range msg {
			items[i] = deviceItem{d}
		}
		cmds = append(cmds, m.devices.SetItems(items))

	case eventMsg:
		line := formatEvent(sseFrame(msg))
		m.logs = append(m.logs, line)
		m.events.SetContent(strings.Join(m.logs, "\n"))
		m.events.GotoBottom()
		cmds = append(cmds, waitForEvent(m.eventCh))

	case streamErrMsg:
		m.status = "stream error: " + msg.Error()
		m.statusIsError = true
		cmds = append(cmds, waitForStreamErr(m.errCh))

	case opResultMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s failed: %v", msg.op, msg.err)
			m.statusIsError = true
		} else {
			m.status = fmt.Sprintf("%s ok: %s", msg.op, msg.body)
			m.statusIsError = false
		}
	}

	var cmd tea.Cmd
	m.devices, cmd = m.devices.Update(msg)
	cmds = append(cmds, cmd)
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.events, cmd = m.events.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// runCommand parses "op [json payload]" from the input line and POSTs it to
// the selected device, the console's equivalent of the teacher's
// handleInput/handleStatusCommand dispatch.
func (m model) runCommand(line string) tea.Cmd {
	deviceID := m.selectedDeviceID()
	parts := strings.SplitN(strings.TrimSpace(line), " ", 2)
	op := parts[0]

	return func() tea.Msg {
		if deviceID == "" {
			return opResultMsg{op: op, err: fmt.Errorf("no device selected")}
		}
		var payload any
		if len(parts) == 2 {
			payload = json.RawMessage(parts[1])
		}
		raw, err := m.client.runOp(deviceID, op, payload)
		return opResultMsg{op: op, body: string(raw), err: err}
	}
}

func formatEvent(f sseFrame) string {
	ts := time.Now().Format("15:04:05")
	if f.DeviceID != "" {
		return fmt.Sprintf("[%s] %s device=%s", ts, f.Kind, f.DeviceID)
	}
	return fmt.Sprintf("[%s] %s", ts, f.Kind)
}

func (m model) View() string {
	left := m.devices.View()
	right := m.events.View()
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right)

	status := statusStyle.Render(m.status)
	if m.statusIsError {
		status = errorStyle.Render(m.status)
	}

	return fmt.Sprintf("%s\n%s\n%s\n%s\n(tab: focus input, enter: send, ctrl+y: copy device id, esc: quit)",
		headerStyle.Render("keepkeyctl"), body, m.input.View(), status)
}
