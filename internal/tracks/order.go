package tracks

import (
	"cmp"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"confsched/internal/model"
)

// collator orders track identifiers alphabetically, ignoring case, using
// the rules of a locale. Identifiers the collator considers equal (e.g.
// "Go" and "go") fall back to byte order so the result is a total order.
//
// A collate.Collator keeps internal buffers, so a collator must not be
// shared between goroutines.
type collator struct {
	c *collate.Collator
}

func newCollator(tag language.Tag) *collator {
	return &collator{c: collate.New(tag, collate.IgnoreCase)}
}

func (c *collator) compare(a, b string) int {
	if r := c.c.CompareString(a, b); r != 0 {
		return r
	}
	return strings.Compare(a, b)
}

// compareEvents orders events by start time, then identifier. The remaining
// keys only matter for duplicate identifiers and keep the order independent
// of input order.
func compareEvents(a, b model.Event) int {
	if r := a.Start.Compare(b.Start); r != 0 {
		return r
	}
	if r := CompareIDs(a.ID, b.ID); r != 0 {
		return r
	}
	if r := strings.Compare(a.SourceID, b.SourceID); r != 0 {
		return r
	}
	if r := a.End.Compare(b.End); r != 0 {
		return r
	}
	if r := strings.Compare(a.Title, b.Title); r != 0 {
		return r
	}
	if r := strings.Compare(a.Room, b.Room); r != 0 {
		return r
	}
	if r := slices.Compare(a.Speakers, b.Speakers); r != 0 {
		return r
	}
	if r := strings.Compare(a.Description, b.Description); r != 0 {
		return r
	}
	// Equal instants in different zones marshal differently.
	if r := strings.Compare(a.Start.Location().String(), b.Start.Location().String()); r != 0 {
		return r
	}
	return strings.Compare(a.End.Location().String(), b.End.Location().String())
}

// CompareIDs orders event identifiers. Two base-10 integers compare
// numerically, so "3" < "5" < "10"; integers sort before any other
// identifier, and everything else compares byte-wise.
func CompareIDs(a, b string) int {
	an, aErr := strconv.ParseInt(a, 10, 64)
	bn, bErr := strconv.ParseInt(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		if r := cmp.Compare(an, bn); r != 0 {
			return r
		}
		// "05" and "5"
		return strings.Compare(a, b)
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	return strings.Compare(a, b)
}
