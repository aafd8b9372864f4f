package grading

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-praktikum-api/internal/models"
)

func cases(verdicts ...models.SubmissionStatus) []CaseOutcome {
	out := make([]CaseOutcome, 0, len(verdicts))
	for _, v := range verdicts {
		out = append(out, CaseOutcome{Verdict: v})
	}
	return out
}

func TestExtractScoreAllAcceptedGivesMaxWeight(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7} {
		outcomes := make([]CaseOutcome, n)
		for i := range outcomes {
			outcomes[i] = CaseOutcome{Verdict: models.VerdictAccepted}
		}
		score := ExtractScore(outcomes, 100, models.WeightingUniform, FailureNone)
		require.Equal(t, 100, score.Value, "n=%d", n)
		require.Equal(t, models.StatusAccepted, score.Verdict)
		require.Equal(t, n, score.Accepted)
	}
}

func TestExtractScoreNothingAccepted(t *testing.T) {
	score := ExtractScore(cases(models.VerdictWrongAnswer, models.VerdictTimeLimitExceeded), 100, models.WeightingUniform, FailureNone)
	require.Zero(t, score.Value)
	require.Equal(t, models.StatusWrongAnswer, score.Verdict)

	compile := ExtractScore(cases(models.VerdictWrongAnswer), 100, models.WeightingUniform, FailureCompile)
	require.Zero(t, compile.Value)
	require.Equal(t, models.StatusCompileError, compile.Verdict)

	runtime := ExtractScore(cases(models.VerdictRuntimeError, models.VerdictRuntimeError), 100, models.WeightingUniform, FailureRuntime)
	require.Equal(t, models.StatusRuntimeError, runtime.Verdict)
}

func TestExtractScorePartialRounds(t *testing.T) {
	score := ExtractScore(cases(models.VerdictAccepted, models.VerdictWrongAnswer, models.VerdictWrongAnswer), 100, models.WeightingUniform, FailureNone)
	require.Equal(t, 33, score.Value)
	require.Equal(t, models.StatusPartial, score.Verdict)

	two := ExtractScore(cases(models.VerdictAccepted, models.VerdictAccepted, models.VerdictWrongAnswer), 100, models.WeightingUniform, FailureNone)
	require.Equal(t, 67, two.Value)

	// a runtime failure reported alongside accepted cases is still partial
	partial := ExtractScore(cases(models.VerdictAccepted, models.VerdictRuntimeError), 50, models.WeightingUniform, FailureRuntime)
	require.Equal(t, 25, partial.Value)
	require.Equal(t, models.StatusPartial, partial.Verdict)
}

func TestExtractScorePerCaseWeighting(t *testing.T) {
	outcomes := []CaseOutcome{
		{Verdict: models.VerdictAccepted, Points: 10},
		{Verdict: models.VerdictWrongAnswer, Points: 30},
	}
	score := ExtractScore(outcomes, 100, models.WeightingPerCase, FailureNone)
	require.Equal(t, 25, score.Value)

	// without points per-case falls back to uniform
	fallback := ExtractScore(cases(models.VerdictAccepted, models.VerdictWrongAnswer), 100, models.WeightingPerCase, FailureNone)
	require.Equal(t, 50, fallback.Value)
}

func TestExtractScoreWithoutCases(t *testing.T) {
	require.Equal(t, models.StatusJudgeError, ExtractScore(nil, 100, models.WeightingUniform, FailureNone).Verdict)
	require.Equal(t, models.StatusCompileError, ExtractScore(nil, 100, models.WeightingUniform, FailureCompile).Verdict)
}

func TestClassify(t *testing.T) {
	require.Equal(t, OutcomePerfect, Classify(models.StatusAccepted))
	require.Equal(t, OutcomePartial, Classify(models.StatusPartial))
	require.Equal(t, OutcomeFailed, Classify(models.StatusCompileError))
	require.Equal(t, OutcomeFailed, Classify(models.StatusWrongAnswer))
	require.Equal(t, OutcomeNotSubmitted, Classify(""))
}

func TestPercentGuardsZeroMax(t *testing.T) {
	require.Zero(t, Percent(10, 0))
	require.Equal(t, 50, Percent(25, 50))
}
