package grades

import "sort"

// Diff reports the evaluations of current considered new relative to previous.
//
// The comparison is positional and gated on list length: a resource whose
// evaluation count is unchanged is skipped even if its contents differ. When
// the counts differ, the longer list is walked by index and every position
// whose evaluation ID differs from the other list (or has no counterpart) is
// reported. A resource absent from previous is compared against an empty list.
func Diff(previous, current Snapshot) []NewEvaluation {
	codes := make([]string, 0, len(current))
	for code := range current {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var out []NewEvaluation
	for _, code := range codes {
		res := current[code]
		prevEvals := previous[code].Evaluations
		if len(res.Evaluations) == len(prevEvals) {
			continue
		}
		longer, shorter := res.Evaluations, prevEvals
		if len(prevEvals) > len(res.Evaluations) {
			longer, shorter = prevEvals, res.Evaluations
		}
		for i, ev := range longer {
			if i < len(shorter) && shorter[i].ID == ev.ID {
				continue
			}
			out = append(out, NewEvaluation{ResourceCode: code, Resource: res, Evaluation: ev})
		}
	}
	return out
}

// DropUngraded removes evaluations whose mean is the no-data marker. The
// returned slice is never nil.
func DropUngraded(evals []Evaluation) []Evaluation {
	out := make([]Evaluation, 0, len(evals))
	for _, ev := range evals {
		if ev.Grade.Mean == NoDataMarker {
			continue
		}
		out = append(out, ev)
	}
	return out
}
