package game

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partyquiz/models"
)

func mcQuestion() *models.Question {
	return &models.Question{
		ID:   1,
		Type: models.QuestionSingleChoice,
		Options: []models.Option{
			{ID: 10, Text: "A", IsCorrect: false, Ord: 0},
			{ID: 11, Text: "B", IsCorrect: true, Ord: 1},
			{ID: 12, Text: "C", IsCorrect: false, Ord: 2},
		},
	}
}

func TestGradeSingleChoice(t *testing.T) {
	q := mcQuestion()

	res, err := Grade(q, json.RawMessage(`{"option_id":11}`))
	require.NoError(t, err)
	assert.Equal(t, models.CorrectnessCorrect, res.Correctness)
	assert.Equal(t, 1.0, res.Fraction)

	res, err = Grade(q, json.RawMessage(`{"option_id":10}`))
	require.NoError(t, err)
	assert.Equal(t, models.CorrectnessIncorrect, res.Correctness)
	assert.Equal(t, 0.0, res.Fraction)

	_, err = Grade(q, json.RawMessage(`{"option_id":99}`))
	assert.Error(t, err, "unknown option ids are rejected, not graded wrong")

	_, err = Grade(q, json.RawMessage(`{"option_id":"B"}`))
	assert.Error(t, err)
}

func TestGradeMultiChoice(t *testing.T) {
	q := &models.Question{
		ID:   2,
		Type: models.QuestionMultiChoice,
		Options: []models.Option{
			{ID: 20, IsCorrect: true},
			{ID: 21, IsCorrect: true},
			{ID: 22, IsCorrect: false},
			{ID: 23, IsCorrect: false},
		},
	}

	tests := []struct {
		name        string
		raw         string
		correctness string
		fraction    float64
	}{
		{"exact set", `{"option_ids":[20,21]}`, models.CorrectnessCorrect, 1.0},
		{"half the correct ones", `{"option_ids":[20]}`, models.CorrectnessPartial, 0.5},
		{"hit plus miss", `{"option_ids":[20,22]}`, models.CorrectnessIncorrect, 0},
		{"only wrong", `{"option_ids":[22,23]}`, models.CorrectnessIncorrect, 0},
		{"both plus one wrong", `{"option_ids":[20,21,22]}`, models.CorrectnessPartial, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Grade(q, json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.correctness, res.Correctness)
			assert.InDelta(t, tt.fraction, res.Fraction, 1e-9)
		})
	}
}

func TestGradePollIsUnscored(t *testing.T) {
	q := &models.Question{
		ID:   3,
		Type: models.QuestionPoll,
		Options: []models.Option{
			{ID: 30, Text: "Cats"},
			{ID: 31, Text: "Dogs"},
		},
	}

	res, err := Grade(q, json.RawMessage(`{"option_id":30}`))
	require.NoError(t, err)
	assert.Equal(t, models.CorrectnessUnscored, res.Correctness)
	assert.Equal(t, 0.0, res.Fraction)
}

func TestGradeOrdered(t *testing.T) {
	// Canonical order by Ord: 40, 41, 42, 43.
	q := &models.Question{
		ID:   4,
		Type: models.QuestionOrdered,
		Options: []models.Option{
			{ID: 42, Ord: 2},
			{ID: 40, Ord: 0},
			{ID: 43, Ord: 3},
			{ID: 41, Ord: 1},
		},
	}

	res, err := Grade(q, json.RawMessage(`{"option_ids":[40,41,42,43]}`))
	require.NoError(t, err)
	assert.Equal(t, models.CorrectnessCorrect, res.Correctness)

	// Two of four positions match: X Z Y W against X Y Z W.
	res, err = Grade(q, json.RawMessage(`{"option_ids":[40,42,41,43]}`))
	require.NoError(t, err)
	assert.Equal(t, models.CorrectnessPartial, res.Correctness)
	assert.InDelta(t, 0.5, res.Fraction, 1e-9)

	_, err = Grade(q, json.RawMessage(`{"option_ids":[40,41]}`))
	assert.Error(t, err, "length mismatch is malformed")
}

func TestGradeNumericMargin(t *testing.T) {
	// Canonical 100, tolerance 10 percent.
	q := &models.Question{
		ID:      5,
		Type:    models.QuestionNumeric,
		Options: []models.Option{{Text: "100", Ord: 10}},
	}

	tests := []struct {
		value       float64
		correctness string
		fraction    float64
	}{
		{95, models.CorrectnessCorrect, 1.0},
		{110, models.CorrectnessCorrect, 1.0},
		{115, models.CorrectnessPartial, 0.5},
		{150, models.CorrectnessIncorrect, 0},
	}
	for _, tt := range tests {
		raw, _ := json.Marshal(map[string]float64{"value": tt.value})
		res, err := Grade(q, raw)
		require.NoError(t, err)
		assert.Equal(t, tt.correctness, res.Correctness, "value %v", tt.value)
		assert.InDelta(t, tt.fraction, res.Fraction, 1e-9, "value %v", tt.value)
	}
}

func TestGradeNumericZeroTolerance(t *testing.T) {
	q := &models.Question{
		ID:      6,
		Type:    models.QuestionNumeric,
		Options: []models.Option{{Text: "1969", Ord: 0}},
	}

	res, err := Grade(q, json.RawMessage(`{"value":1969}`))
	require.NoError(t, err)
	assert.Equal(t, models.CorrectnessCorrect, res.Correctness)

	res, err = Grade(q, json.RawMessage(`{"value":1970}`))
	require.NoError(t, err)
	assert.Equal(t, models.CorrectnessIncorrect, res.Correctness, "no partial zone without a margin")
}

func TestGradeOpenTextFuzzy(t *testing.T) {
	q := &models.Question{
		ID:   7,
		Type: models.QuestionOpenText,
		Options: []models.Option{
			{Text: "Mona Lisa", IsCorrect: true, Ord: 0},
			{Text: "La Gioconda", IsCorrect: true, Ord: 1},
		},
	}

	// One substitution in nine runes: similarity 8/9, above the correct bar.
	res, err := Grade(q, json.RawMessage(`{"text":"mona liza"}`))
	require.NoError(t, err)
	assert.Equal(t, models.CorrectnessCorrect, res.Correctness)
	assert.Equal(t, 1.0, res.Fraction)

	// Either accepted answer counts.
	res, err = Grade(q, json.RawMessage(`{"text":"la gioconda"}`))
	require.NoError(t, err)
	assert.Equal(t, models.CorrectnessCorrect, res.Correctness)

	res, err = Grade(q, json.RawMessage(`{"text":"starry night"}`))
	require.NoError(t, err)
	assert.Equal(t, models.CorrectnessIncorrect, res.Correctness)
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Mona   Lisa ", "mona lisa"},
		{"Beyoncé", "beyonce"},
		{"The Beatles!", "the beatles"},
		{"ÀÉÎÕÜ", "aeiou"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeText(tt.in), "input %q", tt.in)
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, similarity("abc", "abc"))
	assert.Equal(t, 1.0, similarity("", ""))
	assert.InDelta(t, 8.0/9.0, similarity("mona lisa", "mona liza"), 1e-9)
	assert.Equal(t, 0.0, similarity("abc", "xyz"))
}
