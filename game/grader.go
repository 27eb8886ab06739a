// game/grader.go - Pure per-type grading of raw answers against question variants
package game

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"partyquiz/models"
)

// Fuzzy text thresholds.
const (
	fuzzyCorrectThreshold = 0.85
	fuzzyPartialThreshold = 0.70
)

// numericDecayZone widens the linear partial-credit zone to K times the
// tolerance.
const numericDecayZone = 3.0

// GradeResult is the outcome of grading one raw answer. Fraction is in [0,1];
// Normalized is the canonical re-encoding of the answer.
type GradeResult struct {
	Correctness string
	Fraction    float64
	Normalized  json.RawMessage
}

type choiceAnswer struct {
	OptionID uint `json:"option_id"`
}

type multiAnswer struct {
	OptionIDs []uint `json:"option_ids"`
}

type numericAnswer struct {
	Value float64 `json:"value"`
}

type textAnswer struct {
	Text string `json:"text"`
}

// Grade evaluates a raw answer payload against the question. It is pure and
// performs no I/O; malformed payloads return an error the caller surfaces as
// a bad request.
func Grade(q *models.Question, raw json.RawMessage) (GradeResult, error) {
	variant, err := q.Variant()
	if err != nil {
		return GradeResult{}, err
	}

	switch v := variant.(type) {
	case models.SingleChoiceVariant:
		return gradeSingle(q, v, raw)
	case models.MultiChoiceVariant:
		return gradeMulti(v, raw)
	case models.PollVariant:
		return gradePoll(q, raw)
	case models.OrderedVariant:
		return gradeOrdered(v, raw)
	case models.NumericVariant:
		return gradeNumeric(v, raw)
	case models.OpenTextVariant:
		return gradeOpenText(v, raw)
	}
	return GradeResult{}, fmt.Errorf("unhandled variant for question %d", q.ID)
}

func gradeSingle(q *models.Question, v models.SingleChoiceVariant, raw json.RawMessage) (GradeResult, error) {
	var ans choiceAnswer
	if err := json.Unmarshal(raw, &ans); err != nil {
		return GradeResult{}, fmt.Errorf("invalid choice answer: %w", err)
	}
	if !optionExists(q, ans.OptionID) {
		return GradeResult{}, fmt.Errorf("unknown option %d", ans.OptionID)
	}
	normalized, _ := json.Marshal(ans)
	if ans.OptionID == v.CorrectOptionID {
		return GradeResult{Correctness: models.CorrectnessCorrect, Fraction: 1.0, Normalized: normalized}, nil
	}
	return GradeResult{Correctness: models.CorrectnessIncorrect, Fraction: 0, Normalized: normalized}, nil
}

func gradeMulti(v models.MultiChoiceVariant, raw json.RawMessage) (GradeResult, error) {
	var ans multiAnswer
	if err := json.Unmarshal(raw, &ans); err != nil {
		return GradeResult{}, fmt.Errorf("invalid multi-choice answer: %w", err)
	}

	selected := make(map[uint]bool, len(ans.OptionIDs))
	for _, id := range ans.OptionIDs {
		selected[id] = true
	}
	normalized, _ := json.Marshal(ans)

	hits := 0
	for id := range selected {
		if v.CorrectIDs[id] {
			hits++
		}
	}
	extras := len(selected) - hits

	if hits == len(v.CorrectIDs) && extras == 0 {
		return GradeResult{Correctness: models.CorrectnessCorrect, Fraction: 1.0, Normalized: normalized}, nil
	}

	wrongPool := v.OptionCount - len(v.CorrectIDs)
	if wrongPool < 1 {
		wrongPool = 1
	}
	fraction := float64(hits)/float64(len(v.CorrectIDs)) - float64(extras)/float64(wrongPool)
	if fraction <= 0 {
		return GradeResult{Correctness: models.CorrectnessIncorrect, Fraction: 0, Normalized: normalized}, nil
	}
	return GradeResult{Correctness: models.CorrectnessPartial, Fraction: fraction, Normalized: normalized}, nil
}

func gradePoll(q *models.Question, raw json.RawMessage) (GradeResult, error) {
	var ans choiceAnswer
	if err := json.Unmarshal(raw, &ans); err != nil {
		return GradeResult{}, fmt.Errorf("invalid poll answer: %w", err)
	}
	if !optionExists(q, ans.OptionID) {
		return GradeResult{}, fmt.Errorf("unknown option %d", ans.OptionID)
	}
	normalized, _ := json.Marshal(ans)
	return GradeResult{Correctness: models.CorrectnessUnscored, Fraction: 0, Normalized: normalized}, nil
}

func gradeOrdered(v models.OrderedVariant, raw json.RawMessage) (GradeResult, error) {
	var ans multiAnswer
	if err := json.Unmarshal(raw, &ans); err != nil {
		return GradeResult{}, fmt.Errorf("invalid ordered answer: %w", err)
	}
	if len(ans.OptionIDs) != len(v.Canonical) {
		return GradeResult{}, fmt.Errorf("ordered answer has %d entries, want %d", len(ans.OptionIDs), len(v.Canonical))
	}
	normalized, _ := json.Marshal(ans)

	// Strictly positional credit.
	matches := 0
	for i, id := range ans.OptionIDs {
		if id == v.Canonical[i] {
			matches++
		}
	}
	fraction := float64(matches) / float64(len(v.Canonical))

	switch {
	case fraction >= 1.0:
		return GradeResult{Correctness: models.CorrectnessCorrect, Fraction: 1.0, Normalized: normalized}, nil
	case fraction > 0:
		return GradeResult{Correctness: models.CorrectnessPartial, Fraction: fraction, Normalized: normalized}, nil
	default:
		return GradeResult{Correctness: models.CorrectnessIncorrect, Fraction: 0, Normalized: normalized}, nil
	}
}

func gradeNumeric(v models.NumericVariant, raw json.RawMessage) (GradeResult, error) {
	var ans numericAnswer
	if err := json.Unmarshal(raw, &ans); err != nil {
		return GradeResult{}, fmt.Errorf("invalid numeric answer: %w", err)
	}
	normalized, _ := json.Marshal(ans)

	margin := math.Abs(v.Answer) * v.TolerancePct / 100
	diff := math.Abs(ans.Value - v.Answer)

	if diff <= margin {
		return GradeResult{Correctness: models.CorrectnessCorrect, Fraction: 1.0, Normalized: normalized}, nil
	}
	if margin == 0 {
		return GradeResult{Correctness: models.CorrectnessIncorrect, Fraction: 0, Normalized: normalized}, nil
	}

	fraction := 1 - diff/(margin*numericDecayZone)
	if fraction <= 0 {
		return GradeResult{Correctness: models.CorrectnessIncorrect, Fraction: 0, Normalized: normalized}, nil
	}
	return GradeResult{Correctness: models.CorrectnessPartial, Fraction: fraction, Normalized: normalized}, nil
}

func gradeOpenText(v models.OpenTextVariant, raw json.RawMessage) (GradeResult, error) {
	var ans textAnswer
	if err := json.Unmarshal(raw, &ans); err != nil {
		return GradeResult{}, fmt.Errorf("invalid text answer: %w", err)
	}

	submitted := NormalizeText(ans.Text)
	normalized, _ := json.Marshal(textAnswer{Text: submitted})

	best := 0.0
	for _, accepted := range v.Accepted {
		if sim := similarity(submitted, NormalizeText(accepted)); sim > best {
			best = sim
		}
	}

	switch {
	case best >= fuzzyCorrectThreshold:
		return GradeResult{Correctness: models.CorrectnessCorrect, Fraction: 1.0, Normalized: normalized}, nil
	case best >= fuzzyPartialThreshold:
		return GradeResult{Correctness: models.CorrectnessPartial, Fraction: best, Normalized: normalized}, nil
	default:
		return GradeResult{Correctness: models.CorrectnessIncorrect, Fraction: 0, Normalized: normalized}, nil
	}
}

func optionExists(q *models.Question, id uint) bool {
	for _, opt := range q.Options {
		if opt.ID == id {
			return true
		}
	}
	return false
}

var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// NormalizeText lowercases, strips diacritics, collapses whitespace, and
// trims surrounding punctuation.
func NormalizeText(s string) string {
	s = strings.ToLower(s)
	if stripped, _, err := transform.String(diacriticStripper, s); err == nil {
		s = stripped
	}
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	return s
}

// similarity is normalized Levenshtein: 1 - dist/max(len), over runes.
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1.0
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = minInt(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
