// models/variant.go - Tagged variants decoded from the historical option encoding
package models

import (
	"fmt"
	"sort"
	"strconv"
)

// Variant is the per-type interpretation of a question's option list. The
// grader is written against these instead of raw option rows.
type Variant interface {
	variant()
}

// SingleChoiceVariant covers single-choice and true/false questions.
type SingleChoiceVariant struct {
	CorrectOptionID uint
}

// MultiChoiceVariant accepts any subset whose correctness matches all options.
type MultiChoiceVariant struct {
	CorrectIDs  map[uint]bool
	OptionCount int
}

// PollVariant has no grading; answers are stored for aggregation only.
type PollVariant struct{}

// OrderedVariant holds option ids in canonical order (by the Ord field).
type OrderedVariant struct {
	Canonical []uint
}

// NumericVariant is a single-option encoding: Text is the canonical answer,
// Ord is the tolerance percentage.
type NumericVariant struct {
	Answer       float64
	TolerancePct float64
}

// OpenTextVariant accepts every isCorrect option text with fuzzy matching;
// option[0] is the primary accepted answer.
type OpenTextVariant struct {
	Accepted []string
}

func (SingleChoiceVariant) variant() {}
func (MultiChoiceVariant) variant()  {}
func (PollVariant) variant()         {}
func (OrderedVariant) variant()      {}
func (NumericVariant) variant()      {}
func (OpenTextVariant) variant()     {}

// Variant decodes the question's options into the typed variant for its kind.
func (q *Question) Variant() (Variant, error) {
	switch q.Type {
	case QuestionSingleChoice, QuestionTrueFalse:
		for _, opt := range q.Options {
			if opt.IsCorrect {
				return SingleChoiceVariant{CorrectOptionID: opt.ID}, nil
			}
		}
		return nil, fmt.Errorf("question %d: no correct option", q.ID)

	case QuestionMultiChoice:
		correct := make(map[uint]bool)
		for _, opt := range q.Options {
			if opt.IsCorrect {
				correct[opt.ID] = true
			}
		}
		if len(correct) == 0 {
			return nil, fmt.Errorf("question %d: no correct options", q.ID)
		}
		return MultiChoiceVariant{CorrectIDs: correct, OptionCount: len(q.Options)}, nil

	case QuestionPoll:
		return PollVariant{}, nil

	case QuestionOrdered:
		opts := make([]Option, len(q.Options))
		copy(opts, q.Options)
		sort.Slice(opts, func(i, j int) bool { return opts[i].Ord < opts[j].Ord })
		canonical := make([]uint, len(opts))
		for i, opt := range opts {
			canonical[i] = opt.ID
		}
		if len(canonical) == 0 {
			return nil, fmt.Errorf("question %d: empty ordered list", q.ID)
		}
		return OrderedVariant{Canonical: canonical}, nil

	case QuestionNumeric, QuestionYearGuess:
		if len(q.Options) == 0 {
			return nil, fmt.Errorf("question %d: missing numeric option", q.ID)
		}
		answer, err := strconv.ParseFloat(q.Options[0].Text, 64)
		if err != nil {
			return nil, fmt.Errorf("question %d: bad numeric answer %q: %w", q.ID, q.Options[0].Text, err)
		}
		tol := float64(q.Options[0].Ord)
		if tol < 0 {
			tol = 0
		} else if tol > 100 {
			tol = 100
		}
		return NumericVariant{Answer: answer, TolerancePct: tol}, nil

	case QuestionOpenText, QuestionTitleGuess, QuestionArtistGuess:
		var accepted []string
		for _, opt := range q.Options {
			if opt.IsCorrect {
				accepted = append(accepted, opt.Text)
			}
		}
		if len(accepted) == 0 && len(q.Options) > 0 {
			accepted = append(accepted, q.Options[0].Text)
		}
		if len(accepted) == 0 {
			return nil, fmt.Errorf("question %d: no accepted answers", q.ID)
		}
		return OpenTextVariant{Accepted: accepted}, nil
	}

	return nil, fmt.Errorf("question %d: unknown type %q", q.ID, q.Type)
}
