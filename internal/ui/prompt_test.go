package ui_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/pacsbatch/internal/ui"
)

var priorRunChoices = []ui.Choice{
	{Label: "Cancel", Value: "cancel"},
	{Label: "Overwrite", Value: "overwrite"},
}

func TestScriptedPrompter(t *testing.T) {
	p := &ui.ScriptedPrompter{Answers: []string{"overwrite"}}

	answer, err := p.Select("A completed extraction exists", priorRunChoices)
	require.NoError(t, err)
	assert.Equal(t, "overwrite", answer)
	assert.Equal(t, []string{"A completed extraction exists"}, p.Asked)

	_, err = p.Select("Again", priorRunChoices)
	assert.Error(t, err, "answers are used up")
}

func TestScriptedPrompter_AnswerMustBeAChoice(t *testing.T) {
	p := &ui.ScriptedPrompter{Answers: []string{"resume"}}

	_, err := p.Select("A completed extraction exists", priorRunChoices)
	assert.Error(t, err)
}

func TestNonInteractive(t *testing.T) {
	_, err := ui.NonInteractive{}.Select("Continue?", priorRunChoices)
	assert.ErrorIs(t, err, ui.ErrNotInteractive)
	assert.Contains(t, err.Error(), "Continue?")
}
