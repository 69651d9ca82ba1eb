package grades

import (
	"sort"
	"strings"
)

// Affectation lists the categories an evaluation fully counts toward (weight
// exactly 1), sorted and space separated.
func Affectation(ev Evaluation) string {
	var keys []string
	for k, w := range ev.Weights {
		if w == 1 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return strings.Join(keys, " ")
}

// BuildNotification assembles the sink payload for one detected change.
func BuildNotification(instance, target, pingPrefix string, change NewEvaluation) Notification {
	return Notification{
		Instance:     instance,
		Target:       target,
		PingPrefix:   pingPrefix,
		ResourceCode: change.ResourceCode,
		Resource:     change.Resource,
		Evaluation:   change.Evaluation,
		Affectation:  Affectation(change.Evaluation),
	}
}
