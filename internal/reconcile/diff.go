package reconcile

import (
	"sort"

	"github.com/evroute/ruled/internal/events"
	"github.com/evroute/ruled/internal/rule"
)

// CoreChanged reports whether the observed core attributes diverge from
// the desired set. Only the keys the desired state has an opinion on are
// compared; extra observed attributes are ignored.
func CoreChanged(desired, observed map[string]string) bool {
	for key, want := range desired {
		if observed[key] != want {
			return true
		}
	}
	return false
}

// DiffTags compares the desired tag mapping against the observed one.
// Keys present only in observed are returned for removal; desired keys
// whose value differs from (or is absent in) observed are returned for
// addition/update. Identical keys are left untouched.
func DiffTags(desired, observed map[string]string) (remove []string, set map[string]string) {
	for key := range observed {
		if _, ok := desired[key]; !ok {
			remove = append(remove, key)
		}
	}
	sort.Strings(remove)

	set = make(map[string]string)
	for key, value := range desired {
		if observed[key] != value {
			set[key] = value
		}
	}
	if len(set) == 0 {
		set = nil
	}

	return remove, set
}

// DiffTargets compares desired targets (keyed by identifier) against the
// observed target list. Observed identifiers absent from the desired set
// are returned for removal; every desired target is rebuilt into wire
// form and returned for an unconditional re-put - there is no per-target
// content diff.
func DiffTargets(desired map[string]rule.TargetSpec, observed []events.Target) (remove []string, puts []events.Target) {
	for _, target := range observed {
		if _, ok := desired[target.ID]; !ok {
			remove = append(remove, target.ID)
		}
	}
	sort.Strings(remove)

	ids := make([]string, 0, len(desired))
	for id := range desired {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		puts = append(puts, desired[id].Wire())
	}

	return remove, puts
}
