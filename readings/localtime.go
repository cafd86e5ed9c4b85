package readings

import (
	"sort"
	"time"

	// Embedded zone database so the Dublin zone resolves on minimal images
	_ "time/tzdata"
)

// DefaultTimezone is the zone ESB Networks uses for export timestamps
const DefaultTimezone = "Europe/Dublin"

// Localize interprets the wall clock of t (its location is ignored) in loc
// and returns the matching instant.
//
// A wall time that occurs twice (autumn fall-back) resolves to the earlier
// instant. A wall time skipped by a spring-forward gap is read with the
// offset in force before the transition, which moves it forward by the gap.
func Localize(t time.Time, loc *time.Location) time.Time {
	earlier, _, _ := resolve(t, loc)
	return earlier
}

// resolve returns both candidate instants for a wall-clock time. When the
// wall time is unambiguous earlier and later are equal.
func resolve(t time.Time, loc *time.Location) (earlier, later time.Time, ambiguous bool) {
	naive := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)

	// Zone transitions are at least a day apart, so the offsets half a day
	// either side cover every candidate
	_, offBefore := naive.Add(-12 * time.Hour).In(loc).Zone()
	_, offAfter := naive.Add(12 * time.Hour).In(loc).Zone()

	offsets := []int{offBefore}
	if offAfter != offBefore {
		offsets = append(offsets, offAfter)
	}

	var valid []time.Time
	for _, off := range offsets {
		candidate := naive.Add(-time.Duration(off) * time.Second).In(loc)
		if sameWallClock(candidate, naive) {
			valid = append(valid, candidate)
		}
	}

	switch len(valid) {
	case 0:
		gap := naive.Add(-time.Duration(offBefore) * time.Second).In(loc)
		return gap, gap, false
	case 1:
		return valid[0], valid[0], false
	default:
		sort.Slice(valid, func(i, j int) bool { return valid[i].Before(valid[j]) })
		return valid[0], valid[len(valid)-1], true
	}
}

func sameWallClock(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd &&
		a.Hour() == b.Hour() && a.Minute() == b.Minute() &&
		a.Second() == b.Second() && a.Nanosecond() == b.Nanosecond()
}
