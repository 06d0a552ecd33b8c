package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/studiowebux/asynchttp/internal/types"
)

// ErrSelectionCancelled is returned when the request picker is dismissed
var ErrSelectionCancelled = errors.New("selection cancelled")

var (
	titleStyle        = lipgloss.NewStyle().MarginLeft(2).Bold(true)
	itemStyle         = lipgloss.NewStyle().PaddingLeft(4)
	selectedItemStyle = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("170"))
	helpStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1).MarginLeft(2)
)

type item struct {
	def   types.RequestDefinition
	index int
}

func (i item) FilterValue() string {
	return i.def.Name + " " + i.def.URL
}

func (i item) Title() string {
	method := i.def.Method
	if method == "" {
		method = types.MethodGet
	}
	if i.def.Name == "" || i.def.Name == method+" "+i.def.URL {
		return fmt.Sprintf("%s %s", method, i.def.URL)
	}
	return fmt.Sprintf("%s (%s %s)", i.def.Name, method, i.def.URL)
}

func (i item) Description() string { return "" }

type selectorModel struct {
	list     list.Model
	choice   int
	quitting bool
}

func newSelectorModel(file *types.RequestFile) selectorModel {
	items := make([]list.Item, 0, len(file.Requests))
	for i, def := range file.Requests {
		items = append(items, item{def: def, index: i})
	}

	const defaultWidth = 80
	const listHeight = 14

	l := list.New(items, itemDelegate{}, defaultWidth, listHeight)
	l.Title = fmt.Sprintf("Select a request from %s", file.Path)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle

	return selectorModel{list: l, choice: -1}
}

func (m selectorModel) Init() tea.Cmd {
	return nil
}

func (m selectorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			m.choice = -1
			return m, tea.Quit

		case "enter":
			if i, ok := m.list.SelectedItem().(item); ok {
				m.choice = i.index
			}
			m.quitting = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m selectorModel) View() string {
	if m.quitting {
		return ""
	}

	help := helpStyle.Render("↑/↓: navigate • /: filter • enter: select • q/ctrl+c: cancel")
	return fmt.Sprintf("%s\n\n%s", m.list.View(), help)
}

// selectRequest shows an interactive list of the requests in file
func selectRequest(file *types.RequestFile, w io.Writer) (types.RequestDefinition, error) {
	p := tea.NewProgram(newSelectorModel(file), tea.WithOutput(w))
	finalModel, err := p.Run()
	if err != nil {
		return types.RequestDefinition{}, fmt.Errorf("error running selector: %w", err)
	}

	result := finalModel.(selectorModel)
	if result.choice < 0 || result.choice >= len(file.Requests) {
		return types.RequestDefinition{}, ErrSelectionCancelled
	}
	return file.Requests[result.choice], nil
}

// itemDelegate is a custom list item delegate
type itemDelegate struct{}

func (d itemDelegate) Height() int                             { return 1 }
func (d itemDelegate) Spacing() int                            { return 0 }
func (d itemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }
func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(item)
	if !ok {
		return
	}

	str := fmt.Sprintf("%d. %s", index+1, i.Title())

	fn := itemStyle.Render
	if index == m.Index() {
		fn = func(s ...string) string {
			return selectedItemStyle.Render("> " + strings.Join(s, " "))
		}
	}

	fmt.Fprint(w, fn(str))
}
