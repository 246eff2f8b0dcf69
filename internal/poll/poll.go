package poll

import (
	"fmt"

	"github.com/luup-life/luup/internal/session"
)

// Answer is one respondent's choice for a single question
type Answer string

const (
	AnswerYes   Answer = "yes"
	AnswerNo    Answer = "no"
	AnswerMaybe Answer = "maybe"
)

// MaxQuestions is the server-enforced cap on questions per poll
const MaxQuestions = 3

// ValidateAnswers checks a full answer vector against the expected question
// count. It fails fast so an incomplete submission never costs a round trip.
func ValidateAnswers(answers []Answer, expectedQuestionCount int) error {
	if len(answers) != expectedQuestionCount {
		return &session.ValidationError{Reason: fmt.Sprintf(
			"expected %d answers, got %d: answer all questions", expectedQuestionCount, len(answers))}
	}
	for i, a := range answers {
		switch a {
		case AnswerYes, AnswerNo, AnswerMaybe:
		case "":
			return &session.ValidationError{Reason: fmt.Sprintf("question %d is unanswered: answer all questions", i+1)}
		default:
			return &session.ValidationError{Reason: fmt.Sprintf("invalid answer %q for question %d", a, i+1)}
		}
	}
	return nil
}

// ValidateQuestions checks poll creation input
func ValidateQuestions(questions []string, minResponses int) error {
	if len(questions) == 0 {
		return &session.ValidationError{Reason: "at least one question is required"}
	}
	if len(questions) > MaxQuestions {
		return &session.ValidationError{Reason: fmt.Sprintf("maximum %d questions allowed", MaxQuestions)}
	}
	for i, q := range questions {
		if q == "" {
			return &session.ValidationError{Reason: fmt.Sprintf("question %d is empty", i+1)}
		}
	}
	if minResponses < 1 {
		return &session.ValidationError{Reason: "minimum responses must be at least 1"}
	}
	return nil
}

// SubmitState is the server-reported tally state after a submission
type SubmitState struct {
	ResponseCount int  `json:"response_count"`
	MinResponses  int  `json:"min_responses"`
	ResultsShown  bool `json:"results_shown"`
}

// OptionResult holds the tally for one answer option of one question
type OptionResult struct {
	Count   int `json:"count"`
	Percent int `json:"percent"`
}

// QuestionResult holds the per-option tallies for one question
type QuestionResult struct {
	Question string                  `json:"question"`
	Options  map[Answer]OptionResult `json:"options"`
}

// ComputeResults tallies answer counts and percentages per question across
// all respondents. responses is the ordered sequence of per-respondent
// answer vectors; vectors shorter than the question list simply contribute
// nothing for the missing indexes. With zero respondents every option is
// 0% and no division takes place.
func ComputeResults(questions []string, responses [][]Answer) []QuestionResult {
	total := len(responses)
	results := make([]QuestionResult, len(questions))

	for qi, q := range questions {
		counts := map[Answer]int{AnswerYes: 0, AnswerNo: 0, AnswerMaybe: 0}
		for _, vector := range responses {
			if qi >= len(vector) {
				continue
			}
			switch vector[qi] {
			case AnswerYes, AnswerNo, AnswerMaybe:
				counts[vector[qi]]++
			}
		}

		options := make(map[Answer]OptionResult, len(counts))
		for option, count := range counts {
			percent := 0
			if total > 0 {
				percent = int(float64(count)/float64(total)*100 + 0.5)
			}
			options[option] = OptionResult{Count: count, Percent: percent}
		}
		results[qi] = QuestionResult{Question: q, Options: options}
	}

	return results
}
