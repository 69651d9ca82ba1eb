package grades

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func evals(ids ...int64) []Evaluation {
	out := make([]Evaluation, 0, len(ids))
	for _, id := range ids {
		out = append(out, Evaluation{ID: id, Weights: map[string]float64{}})
	}
	return out
}

func TestDiffAppendedEvaluation(t *testing.T) {
	t.Parallel()

	prev := Snapshot{"R1": {ID: 1, Title: "Maths", Evaluations: evals(1, 2)}}
	curr := Snapshot{"R1": {ID: 1, Title: "Maths", Evaluations: evals(1, 2, 3)}}

	got := Diff(prev, curr)
	require.Len(t, got, 1)
	require.Equal(t, "R1", got[0].ResourceCode)
	require.Equal(t, int64(3), got[0].Evaluation.ID)
	require.Equal(t, "Maths", got[0].Resource.Title)
}

func TestDiffEqualLengthsAreSkipped(t *testing.T) {
	t.Parallel()

	prev := Snapshot{
		"R1":   {Evaluations: evals(1, 2)},
		"SAE1": {Evaluations: evals(7)},
	}
	curr := Snapshot{
		"R1":   {Evaluations: evals(5, 6)},
		"SAE1": {Evaluations: evals(7)},
	}
	curr["SAE1"].Evaluations[0].Grade.Value = "12"

	require.Empty(t, Diff(prev, curr))
}

func TestDiffInsertedInMiddleReportsShiftedPositions(t *testing.T) {
	t.Parallel()

	prev := Snapshot{"R1": {Evaluations: evals(1, 3)}}
	curr := Snapshot{"R1": {Evaluations: evals(1, 2, 3)}}

	got := Diff(prev, curr)
	require.Len(t, got, 2)
	require.Equal(t, int64(2), got[0].Evaluation.ID)
	require.Equal(t, int64(3), got[1].Evaluation.ID)
}

func TestDiffShrinkingListReportsPreviousEntries(t *testing.T) {
	t.Parallel()

	prev := Snapshot{"R1": {Evaluations: evals(1, 2)}}
	curr := Snapshot{"R1": {Title: "now", Evaluations: evals(1)}}

	got := Diff(prev, curr)
	require.Len(t, got, 1)
	require.Equal(t, int64(2), got[0].Evaluation.ID)
	require.Equal(t, "now", got[0].Resource.Title)
}

func TestDiffNewResource(t *testing.T) {
	t.Parallel()

	prev := Snapshot{}
	curr := Snapshot{"P1": {Evaluations: evals(4, 5)}}

	got := Diff(prev, curr)
	require.Len(t, got, 2)
	require.Equal(t, "P1", got[0].ResourceCode)
}

func TestDropUngraded(t *testing.T) {
	t.Parallel()

	in := evals(1, 2, 3)
	in[1].Grade.Mean = NoDataMarker
	in[2].Grade.Mean = "11.5"

	out := DropUngraded(in)
	require.Len(t, out, 2)
	require.Equal(t, int64(1), out[0].ID)
	require.Equal(t, int64(3), out[1].ID)
	require.NotNil(t, DropUngraded(nil))
}

func TestAffectation(t *testing.T) {
	t.Parallel()

	ev := Evaluation{Weights: map[string]float64{"RT3": 1, "RT1": 1, "RT2": 0, "RT4": 0.5}}
	require.Equal(t, "RT1 RT3", Affectation(ev))
	require.Equal(t, "", Affectation(Evaluation{}))
}
