package ui

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// Choice is one option of a selection prompt
type Choice struct {
	Label string
	Value string
}

// Prompter asks the operator to pick one of several choices
type Prompter interface {
	Select(title string, choices []Choice) (string, error)
}

// ErrNotInteractive is returned when a prompt is needed but stdin is not a terminal
var ErrNotInteractive = errors.New("stdin is not a terminal")

// ErrAborted is returned when the operator cancels a prompt
var ErrAborted = errors.New("prompt aborted")

// IsInteractive reports whether stdin is a terminal
func IsInteractive() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// HuhPrompter renders selection prompts in the terminal
type HuhPrompter struct{}

// NewPrompter returns a terminal prompter, or one that always fails with
// ErrNotInteractive when stdin is not a terminal
func NewPrompter() Prompter {
	if !IsInteractive() {
		return NonInteractive{}
	}
	return HuhPrompter{}
}

// Select shows a selection list and returns the chosen value
func (HuhPrompter) Select(title string, choices []Choice) (string, error) {
	if len(choices) == 0 {
		return "", fmt.Errorf("prompt %q has no choices", title)
	}

	options := make([]huh.Option[string], 0, len(choices))
	for _, c := range choices {
		options = append(options, huh.NewOption(c.Label, c.Value))
	}

	selected := choices[0].Value
	err := huh.NewSelect[string]().
		Title(title).
		Options(options...).
		Value(&selected).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return "", ErrAborted
	}
	if err != nil {
		return "", err
	}
	return selected, nil
}

// NonInteractive fails every prompt
type NonInteractive struct{}

// Select always returns ErrNotInteractive
func (NonInteractive) Select(title string, _ []Choice) (string, error) {
	return "", fmt.Errorf("%w: cannot ask %q", ErrNotInteractive, title)
}

// ScriptedPrompter answers prompts from a fixed list, in order
type ScriptedPrompter struct {
	Answers []string
	Asked   []string
}

// Select returns the next scripted answer
func (s *ScriptedPrompter) Select(title string, choices []Choice) (string, error) {
	s.Asked = append(s.Asked, title)
	if len(s.Answers) == 0 {
		return "", fmt.Errorf("no scripted answer for %q", title)
	}
	answer := s.Answers[0]
	s.Answers = s.Answers[1:]
	for _, c := range choices {
		if c.Value == answer {
			return answer, nil
		}
	}
	return "", fmt.Errorf("scripted answer %q is not a choice of %q", answer, title)
}
