package poll

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luup-life/luup/internal/session"
)

func TestValidateAnswers(t *testing.T) {
	tests := []struct {
		name    string
		answers []Answer
		count   int
		wantErr bool
	}{
		{"all valid", []Answer{AnswerYes, AnswerNo, AnswerMaybe}, 3, false},
		{"single question", []Answer{AnswerYes}, 1, false},
		{"too few answers", []Answer{AnswerYes}, 2, true},
		{"too many answers", []Answer{AnswerYes, AnswerNo}, 1, true},
		{"empty answer", []Answer{AnswerYes, ""}, 2, true},
		{"unknown answer", []Answer{Answer("dunno")}, 1, true},
		{"no answers", nil, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAnswers(tt.answers, tt.count)
			if tt.wantErr {
				var verr *session.ValidationError
				require.ErrorAs(t, err, &verr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateQuestions(t *testing.T) {
	assert.NoError(t, ValidateQuestions([]string{"lunch?"}, 1))
	assert.NoError(t, ValidateQuestions([]string{"a", "b", "c"}, 5))

	assert.Error(t, ValidateQuestions(nil, 1))
	assert.Error(t, ValidateQuestions([]string{"a", "b", "c", "d"}, 1))
	assert.Error(t, ValidateQuestions([]string{""}, 1))
	assert.Error(t, ValidateQuestions([]string{"a"}, 0))
}

func TestComputeResults(t *testing.T) {
	questions := []string{"remote friday?"}
	responses := [][]Answer{
		{AnswerYes},
		{AnswerYes},
		{AnswerNo},
		{AnswerMaybe},
	}

	results := ComputeResults(questions, responses)
	require.Len(t, results, 1)
	assert.Equal(t, "remote friday?", results[0].Question)

	opts := results[0].Options
	assert.Equal(t, 2, opts[AnswerYes].Count)
	assert.Equal(t, 50, opts[AnswerYes].Percent)
	assert.Equal(t, 1, opts[AnswerNo].Count)
	assert.Equal(t, 25, opts[AnswerNo].Percent)
	assert.Equal(t, 1, opts[AnswerMaybe].Count)
	assert.Equal(t, 25, opts[AnswerMaybe].Percent)
}

func TestComputeResultsNoRespondents(t *testing.T) {
	results := ComputeResults([]string{"q1", "q2"}, nil)
	require.Len(t, results, 2)

	for _, qr := range results {
		for _, ans := range []Answer{AnswerYes, AnswerNo, AnswerMaybe} {
			assert.Equal(t, 0, qr.Options[ans].Count)
			assert.Equal(t, 0, qr.Options[ans].Percent)
		}
	}
}

func TestComputeResultsSkipsShortResponses(t *testing.T) {
	questions := []string{"q1", "q2"}
	responses := [][]Answer{
		{AnswerYes, AnswerNo},
		{AnswerYes}, // malformed, only counted where present
	}

	results := ComputeResults(questions, responses)
	require.Len(t, results, 2)
	assert.Equal(t, 2, results[0].Options[AnswerYes].Count)
	assert.Equal(t, 1, results[1].Options[AnswerNo].Count)
}
