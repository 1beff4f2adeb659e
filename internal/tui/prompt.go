package tui

import (
	"errors"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// ErrPromptCancelled is returned when the user leaves the prompt without
// entering anything.
var ErrPromptCancelled = errors.New("tui: prompt cancelled")

// PromptModel asks for a single query sequence.
type PromptModel struct {
	input     textinput.Model
	value     string
	cancelled bool
}

// NewPromptModel builds the simple-mode prompt.
func NewPromptModel() PromptModel {
	in := textinput.New()
	in.Prompt = "Enter Query Seq : "
	in.Placeholder = "MKTAYIAKQRQISFVKSHFSRQ..."
	in.CharLimit = 0
	in.Width = 60
	in.Focus()
	return PromptModel{input: in}
}

func (m PromptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m PromptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			m.value = strings.TrimSpace(m.input.Value())
			if m.value == "" {
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancelled = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m PromptModel) View() string {
	if m.value != "" || m.cancelled {
		return ""
	}
	return titleStyle.Render("automega simple mode") + "\n\n" + m.input.View() + "\n\n" +
		footerStyle.Render("enter to run · esc to cancel") + "\n"
}

// Value returns the entered query, or ErrPromptCancelled.
func (m PromptModel) Value() (string, error) {
	if m.cancelled || m.value == "" {
		return "", ErrPromptCancelled
	}
	return m.value, nil
}

// PromptQuery runs the prompt on the given terminal streams.
func PromptQuery(in io.Reader, out io.Writer) (string, error) {
	p := tea.NewProgram(NewPromptModel(), tea.WithInput(in), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return "", err
	}
	return final.(PromptModel).Value()
}
