package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionSingleChoice QuestionType = "single_choice"
	QuestionMultiChoice  QuestionType = "multi_choice"
	QuestionBoolean      QuestionType = "boolean"
	QuestionFreeText     QuestionType = "free_text"
	QuestionNumeric      QuestionType = "numeric"
	QuestionMatching     QuestionType = "matching"
	QuestionEssay        QuestionType = "essay"
)

// AutoGradable reports whether the grading worker can score this type
// without human or AI review.
func (t QuestionType) AutoGradable() bool {
	switch t {
	case QuestionSingleChoice, QuestionMultiChoice, QuestionBoolean, QuestionNumeric, QuestionMatching:
		return true
	}
	return false
}

// MatchPair is one left/right pairing of a matching question.
type MatchPair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// Question is immutable once a session starts. The correct answer is never
// embedded here; it lives in the answer key loaded by the grading worker.
type Question struct {
	ID         uuid.UUID    `json:"id"`
	Type       QuestionType `json:"type"`
	Prompt     string       `json:"prompt"`
	Points     float64      `json:"points"`
	Options    []string     `json:"options,omitempty"`
	MatchPairs []MatchPair  `json:"match_pairs,omitempty"`
}

// Section is an ordered group of questions with an optional own time budget.
// AllocatedSeconds of 0 means the section inherits the session deadline.
type Section struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	AllocatedSeconds int        `json:"allocated_seconds,omitempty"`
	Questions        []Question `json:"questions"`
}

// Assessment is the read-only definition a session is started from.
type Assessment struct {
	ID             uuid.UUID     `json:"id"`
	Title          string        `json:"title"`
	TimeLimit      time.Duration `json:"time_limit"`
	PassingScore   float64       `json:"passing_score"`
	MaxAttempts    int           `json:"max_attempts"` // 0 = unlimited
	AvailableFrom  *time.Time    `json:"available_from,omitempty"`
	AvailableUntil *time.Time    `json:"available_until,omitempty"`
	Sections       []Section     `json:"sections"`
}

// QuestionCount returns the total number of questions across sections.
func (a *Assessment) QuestionCount() int {
	n := 0
	for i := range a.Sections {
		n += len(a.Sections[i].Questions)
	}
	return n
}

// FindQuestion returns the question with the given ID, or nil.
func (a *Assessment) FindQuestion(id uuid.UUID) *Question {
	for i := range a.Sections {
		for j := range a.Sections[i].Questions {
			if a.Sections[i].Questions[j].ID == id {
				return &a.Sections[i].Questions[j]
			}
		}
	}
	return nil
}

// AnswerKeyEntry carries the correct answer for one question. Only the
// grading worker ever sees these.
type AnswerKeyEntry struct {
	QuestionID uuid.UUID       `json:"question_id"`
	Type       QuestionType    `json:"type"`
	Points     float64         `json:"points"`
	Correct    json.RawMessage `json:"correct"`
}
