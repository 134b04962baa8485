package ui

import (
	"sort"
	"strconv"
	"strings"

	"photokeep/internal/cache"
	"photokeep/internal/container"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ChangesMsg carries one batch of container cache changes into the program.
type ChangesMsg struct {
	Batch []cache.Change[container.ImageContainer]
}

// SubscriptionClosedMsg signals that the cache subscription ended.
type SubscriptionClosedMsg struct{}

// WaitForChanges blocks on the subscription channel and converts the next
// batch into a tea message.
func WaitForChanges(ch <-chan []cache.Change[container.ImageContainer]) tea.Cmd {
	return func() tea.Msg {
		batch, ok := <-ch
		if !ok {
			return SubscriptionClosedMsg{}
		}
		return ChangesMsg{Batch: batch}
	}
}

type BrowserModel struct {
	sub        <-chan []cache.Change[container.ImageContainer]
	containers map[string]container.ImageContainer
	Table      table.Model
	Closed     bool
	Err        error
}

func NewBrowserModel(sub <-chan []cache.Change[container.ImageContainer], height int) BrowserModel {
	columns := []table.Column{
		{Title: "Container", Width: 40},
		{Title: "Kind", Width: 10},
		{Title: "Images", Width: 8},
		{Title: "Date", Width: 20},
	}
	if height < 12 {
		height = 12
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(height-10),
	)
	sStyle := table.DefaultStyles()
	sStyle.Header = sStyle.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	sStyle.Selected = sStyle.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(sStyle)

	return BrowserModel{
		sub:        sub,
		containers: make(map[string]container.ImageContainer),
		Table:      t,
	}
}

func (m BrowserModel) Init() tea.Cmd {
	return WaitForChanges(m.sub)
}

func (m BrowserModel) Update(msg tea.Msg) (BrowserModel, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Table.SetHeight(msg.Height - 10)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case ChangesMsg:
		for _, change := range msg.Batch {
			switch change.Kind {
			case cache.KindRemove:
				delete(m.containers, change.Key)
			default:
				m.containers[change.Key] = change.Value
			}
		}
		m.rebuildRows()
		return m, WaitForChanges(m.sub)

	case SubscriptionClosedMsg:
		m.Closed = true
		return m, nil
	}

	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m *BrowserModel) rebuildRows() {
	keys := make([]string, 0, len(m.containers))
	for key := range m.containers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([]table.Row, 0, len(keys))
	for _, key := range keys {
		c := m.containers[key]
		rows = append(rows, table.Row{
			c.Name,
			string(c.Type),
			strconv.Itoa(len(c.ImageRefs)),
			c.Date.Format("2006-01-02 15:04"),
		})
	}
	m.Table.SetRows(rows)
}

func (m BrowserModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("photokeep - Containers") + "\n\n")
	b.WriteString(m.Table.View())
	b.WriteString("\n\n")
	status := "Live: cache updates apply automatically. Press 'q' to quit."
	if m.Closed {
		status = "Subscription closed. Press 'q' to quit."
	}
	b.WriteString(blurredStyle.Render(status))
	if m.Err != nil {
		b.WriteString("\n" + errorMessageStyle(m.Err.Error()))
	}
	return b.String()
}
