package conflict

import (
	"testing"
	"time"
)

func day(h, m int) time.Time {
	return time.Date(2026, 4, 2, h, m, 0, 0, time.UTC)
}

func countType(reports []Report, typ Type) int {
	n := 0
	for _, r := range reports {
		if r.Type == typ {
			n++
		}
	}
	return n
}

func TestDetect_NoConflicts(t *testing.T) {
	candidate := Range{Start: day(10, 0), End: day(11, 0)}
	slots := []Slot{{Start: day(9, 0), End: day(17, 0)}}

	reports := Detect(candidate, time.Hour, nil, slots)
	if len(reports) != 0 {
		t.Fatalf("expected no conflicts, got %d: %+v", len(reports), reports)
	}
}

func TestDetect_OverlapAndOutsideHours(t *testing.T) {
	// Overlaps an existing appointment AND falls outside declared hours:
	// both conflicts must be reported, not just the first.
	candidate := Range{Start: day(18, 30), End: day(19, 30)}
	committed := []Range{{Start: day(19, 0), End: day(20, 0)}}
	slots := []Slot{{Start: day(9, 0), End: day(17, 0)}}

	reports := Detect(candidate, time.Hour, committed, slots)
	if len(reports) != 2 {
		t.Fatalf("expected 2 conflicts, got %d: %+v", len(reports), reports)
	}
	if countType(reports, TypeOverlap) != 1 {
		t.Fatalf("expected an overlap conflict, got %+v", reports)
	}
	if countType(reports, TypeUnavailableHours) != 1 {
		t.Fatalf("expected an unavailable_hours conflict, got %+v", reports)
	}
	if !HasBlocking(reports) {
		t.Fatal("error-severity conflicts must block")
	}
}

func TestDetect_DoubleBooking(t *testing.T) {
	candidate := Range{Start: day(10, 0), End: day(11, 0)}
	committed := []Range{{Start: day(10, 0), End: day(11, 0)}}
	slots := []Slot{{Start: day(9, 0), End: day(17, 0)}}

	reports := Detect(candidate, time.Hour, committed, slots)
	if countType(reports, TypeDoubleBooking) != 1 {
		t.Fatalf("expected a double_booking conflict, got %+v", reports)
	}
	if countType(reports, TypeOverlap) != 0 {
		t.Fatalf("same-start overlap should be classified as double_booking, got %+v", reports)
	}
}

func TestDetect_PartialSlotCoverageRejected(t *testing.T) {
	// Candidate starts inside a slot but runs past its end. Exact coverage by
	// one slot is required; partial overlap is not accepted.
	candidate := Range{Start: day(16, 30), End: day(17, 30)}
	slots := []Slot{{Start: day(9, 0), End: day(17, 0)}}

	reports := Detect(candidate, time.Hour, nil, slots)
	if countType(reports, TypeUnavailableHours) != 1 {
		t.Fatalf("expected unavailable_hours, got %+v", reports)
	}
}

func TestDetect_InsufficientTimeWarning(t *testing.T) {
	// The matched slot is shorter than the requested duration even though the
	// candidate range itself fits inside it.
	candidate := Range{Start: day(9, 0), End: day(9, 30)}
	slots := []Slot{{Start: day(9, 0), End: day(9, 30)}}

	reports := Detect(candidate, 2*time.Hour, nil, slots)
	if len(reports) != 1 {
		t.Fatalf("expected 1 conflict, got %d: %+v", len(reports), reports)
	}
	if reports[0].Type != TypeInsufficientTime || reports[0].Severity != SeverityWarning {
		t.Fatalf("expected insufficient_time warning, got %+v", reports[0])
	}
	if HasBlocking(reports) {
		t.Fatal("warnings are advisory and must not block")
	}
}

func TestDetect_SuggestionsPresent(t *testing.T) {
	candidate := Range{Start: day(18, 0), End: day(19, 0)}
	reports := Detect(candidate, time.Hour, nil, []Slot{{Start: day(9, 0), End: day(17, 0)}})
	for _, r := range reports {
		if len(r.SuggestedSolutions) < 2 {
			t.Fatalf("conflict %s should carry at least 2 suggestions, got %v", r.Type, r.SuggestedSolutions)
		}
	}
}
