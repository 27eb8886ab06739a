package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariantSingleChoice(t *testing.T) {
	q := &Question{
		Type: QuestionSingleChoice,
		Options: []Option{
			{ID: 1, IsCorrect: false},
			{ID: 2, IsCorrect: true},
		},
	}
	v, err := q.Variant()
	require.NoError(t, err)
	assert.Equal(t, SingleChoiceVariant{CorrectOptionID: 2}, v)

	q.Type = QuestionTrueFalse
	v, err = q.Variant()
	require.NoError(t, err)
	assert.Equal(t, SingleChoiceVariant{CorrectOptionID: 2}, v)

	q.Options = []Option{{ID: 1}}
	_, err = q.Variant()
	assert.Error(t, err, "a choice question needs a correct option")
}

func TestVariantMultiChoice(t *testing.T) {
	q := &Question{
		Type: QuestionMultiChoice,
		Options: []Option{
			{ID: 1, IsCorrect: true},
			{ID: 2, IsCorrect: false},
			{ID: 3, IsCorrect: true},
		},
	}
	v, err := q.Variant()
	require.NoError(t, err)
	mv, ok := v.(MultiChoiceVariant)
	require.True(t, ok)
	assert.Equal(t, map[uint]bool{1: true, 3: true}, mv.CorrectIDs)
	assert.Equal(t, 3, mv.OptionCount)
}

func TestVariantOrderedSortsByOrd(t *testing.T) {
	q := &Question{
		Type: QuestionOrdered,
		Options: []Option{
			{ID: 7, Ord: 2},
			{ID: 5, Ord: 0},
			{ID: 6, Ord: 1},
		},
	}
	v, err := q.Variant()
	require.NoError(t, err)
	assert.Equal(t, OrderedVariant{Canonical: []uint{5, 6, 7}}, v)
}

func TestVariantNumeric(t *testing.T) {
	q := &Question{
		Type:    QuestionNumeric,
		Options: []Option{{Text: "100", Ord: 10}},
	}
	v, err := q.Variant()
	require.NoError(t, err)
	assert.Equal(t, NumericVariant{Answer: 100, TolerancePct: 10}, v)

	// Year guesses reuse the numeric encoding.
	q = &Question{Type: QuestionYearGuess, Options: []Option{{Text: "1969", Ord: 0}}}
	v, err = q.Variant()
	require.NoError(t, err)
	assert.Equal(t, NumericVariant{Answer: 1969, TolerancePct: 0}, v)

	// Tolerance is clamped to [0, 100].
	q = &Question{Type: QuestionNumeric, Options: []Option{{Text: "50", Ord: 250}}}
	v, err = q.Variant()
	require.NoError(t, err)
	assert.Equal(t, 100.0, v.(NumericVariant).TolerancePct)

	q = &Question{Type: QuestionNumeric, Options: []Option{{Text: "not a number"}}}
	_, err = q.Variant()
	assert.Error(t, err)
}

func TestVariantOpenText(t *testing.T) {
	q := &Question{
		Type: QuestionOpenText,
		Options: []Option{
			{Text: "Mona Lisa", IsCorrect: true},
			{Text: "La Gioconda", IsCorrect: true},
			{Text: "wrong", IsCorrect: false},
		},
	}
	v, err := q.Variant()
	require.NoError(t, err)
	assert.Equal(t, OpenTextVariant{Accepted: []string{"Mona Lisa", "La Gioconda"}}, v)

	// Title and artist guesses grade as open text; without correctness flags
	// the first option is the accepted answer.
	q = &Question{Type: QuestionTitleGuess, Options: []Option{{Text: "Thriller"}}}
	v, err = q.Variant()
	require.NoError(t, err)
	assert.Equal(t, OpenTextVariant{Accepted: []string{"Thriller"}}, v)
}

func TestVariantUnknownType(t *testing.T) {
	q := &Question{Type: "essay"}
	_, err := q.Variant()
	assert.Error(t, err)
}

func TestFoldName(t *testing.T) {
	assert.Equal(t, FoldName("  Alice  "), FoldName("alice"))
	assert.NotEqual(t, FoldName("alice"), FoldName("bob"))
}
