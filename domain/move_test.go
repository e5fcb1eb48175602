package domain

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func positions(items []WorkItem) map[string]int {
	out := make(map[string]int, len(items))
	for _, it := range items {
		out[it.ID] = it.Position
	}
	return out
}

func assertContiguous(t *testing.T, items []WorkItem) {
	t.Helper()
	seen := make([]bool, len(items))
	for _, it := range items {
		if it.Position < 0 || it.Position >= len(items) {
			t.Fatalf("position %d of %s out of range 0..%d", it.Position, it.ID, len(items)-1)
		}
		if seen[it.Position] {
			t.Fatalf("duplicate position %d", it.Position)
		}
		seen[it.Position] = true
	}
}

func TestPreviewMoveForwardIntoNextColumn(t *testing.T) {
	items := []WorkItem{
		{ID: "1", State: Todo, Position: 0},
		{ID: "2", State: InProgress, Position: 1},
	}

	got := PreviewMove(items, "1", "2")

	idx := indexOf(got, "1")
	if idx < 0 {
		t.Fatalf("active story missing from result: %#v", got)
	}
	if got[idx].State != InProgress {
		t.Fatalf("expected story 1 in progress, got %v", got[idx].State)
	}
	if got[idx].CompletedAt != nil {
		t.Fatalf("completedAt must stay unset outside the terminal state")
	}
	assertContiguous(t, got)
	if items[0].State != Todo || items[0].Position != 0 {
		t.Fatalf("input collection was mutated: %#v", items)
	}
}

func TestPreviewMoveRejectsBackwardMove(t *testing.T) {
	items := []WorkItem{
		{ID: "4", State: Todo, Position: 0},
		{ID: "3", State: InProgress, Position: 1},
	}

	got := PreviewMove(items, "3", "4")

	if diff := cmp.Diff(items, got); diff != "" {
		t.Fatalf("backward move changed the collection (-want +got):\n%s", diff)
	}
}

func TestPreviewMoveBackwardGuardHoldsForEveryPair(t *testing.T) {
	items := []WorkItem{
		{ID: "a", State: Todo, Position: 0},
		{ID: "b", State: InProgress, Position: 1},
		{ID: "c", State: Completed, Position: 2},
		{ID: "d", State: Completed, Position: 3},
	}
	for _, active := range items {
		for _, over := range items {
			if active.State <= over.State {
				continue
			}
			got := PreviewMove(items, active.ID, over.ID)
			if diff := cmp.Diff(items, got); diff != "" {
				t.Fatalf("move %s -> %s not rejected:\n%s", active.ID, over.ID, diff)
			}
		}
	}
}

func TestPreviewMoveOntoItselfIsNoop(t *testing.T) {
	items := []WorkItem{
		{ID: "1", State: Todo, Position: 5},
		{ID: "2", State: Completed, Position: 9},
	}
	for _, it := range items {
		got := PreviewMove(items, it.ID, it.ID)
		if diff := cmp.Diff(items, got); diff != "" {
			t.Fatalf("self move of %s changed collection:\n%s", it.ID, diff)
		}
	}
}

func TestPreviewMoveUnknownIDsAreNoop(t *testing.T) {
	items := []WorkItem{{ID: "1", State: Todo}, {ID: "2", State: Todo, Position: 1}}
	cases := map[string][2]string{
		"unknown_active": {"missing", "2"},
		"unknown_over":   {"1", "missing"},
		"both_unknown":   {"x", "y"},
	}
	for name, ids := range cases {
		t.Run(name, func(t *testing.T) {
			got := PreviewMove(items, ids[0], ids[1])
			if diff := cmp.Diff(items, got); diff != "" {
				t.Fatalf("unexpected change:\n%s", diff)
			}
		})
	}
}

func TestPreviewMoveStampsCompletionOnce(t *testing.T) {
	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	later := first.Add(48 * time.Hour)
	items := []WorkItem{
		{ID: "s", State: InProgress, Position: 0},
		{ID: "c1", State: Completed, Position: 1},
		{ID: "c2", State: Completed, Position: 2},
	}

	moved := NewMover(fixedClock(first)).PreviewMove(items, "s", "c1")
	s := moved[indexOf(moved, "s")]
	if s.State != Completed {
		t.Fatalf("expected completed, got %v", s.State)
	}
	if s.CompletedAt == nil || !s.CompletedAt.Equal(first) {
		t.Fatalf("expected completedAt %v, got %v", first, s.CompletedAt)
	}

	again := NewMover(fixedClock(later)).PreviewMove(moved, "s", "c2")
	s = again[indexOf(again, "s")]
	if s.CompletedAt == nil || !s.CompletedAt.Equal(first) {
		t.Fatalf("reorder within completed changed completedAt to %v", s.CompletedAt)
	}
	assertContiguous(t, again)
}

func TestPreviewMoveCompletionUsesWallClock(t *testing.T) {
	items := []WorkItem{
		{ID: "s", State: Todo, Position: 0},
		{ID: "c", State: Completed, Position: 1},
	}
	got := PreviewMove(items, "s", "c")
	s := got[indexOf(got, "s")]
	if s.CompletedAt == nil {
		t.Fatal("expected completedAt to be set")
	}
	if s.CompletedAt.After(time.Now()) {
		t.Fatalf("completedAt %v is in the future", s.CompletedAt)
	}
}

func TestPreviewMoveKeepsExistingCompletion(t *testing.T) {
	stamped := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	items := []WorkItem{
		{ID: "s", State: InProgress, CompletedAt: &stamped},
		{ID: "c", State: Completed, Position: 1},
	}
	got := NewMover(fixedClock(stamped.Add(time.Hour))).PreviewMove(items, "s", "c")
	s := got[indexOf(got, "s")]
	if s.CompletedAt == nil || !s.CompletedAt.Equal(stamped) {
		t.Fatalf("existing completedAt overwritten: %v", s.CompletedAt)
	}
}

func TestPreviewMoveReordersWithinColumn(t *testing.T) {
	items := []WorkItem{
		{ID: "a", State: Todo, Position: 0},
		{ID: "b", State: Todo, Position: 1},
		{ID: "c", State: Todo, Position: 2},
	}

	down := PreviewMove(items, "a", "c")
	if want := map[string]int{"b": 0, "c": 1, "a": 2}; !cmp.Equal(want, positions(down)) {
		t.Fatalf("unexpected positions moving down: %v", positions(down))
	}

	up := PreviewMove(items, "c", "a")
	if want := map[string]int{"c": 0, "a": 1, "b": 2}; !cmp.Equal(want, positions(up)) {
		t.Fatalf("unexpected positions moving up: %v", positions(up))
	}
}

func TestPreviewMoveSequenceKeepsPositionsContiguous(t *testing.T) {
	items := Arrange([]WorkItem{
		{ID: "t1", State: Todo, Position: 7},
		{ID: "t2", State: Todo, Position: 3},
		{ID: "p1", State: InProgress, Position: 40},
		{ID: "c1", State: Completed, Position: 11},
	})
	items = SeedPlaceholders(items)

	gestures := [][2]string{
		{"t1", "p1"},
		{"t2", "t1"},
		{"t1", "c1"},
		{"p1", "t2"},
		{"t2", "c1"},
		{"c1", "t1"},
		{"missing", "c1"},
	}
	for _, g := range gestures {
		items = PreviewMove(items, g[0], g[1])
		assertContiguous(t, items)
	}
	for _, it := range items {
		if it.State == Completed && !it.Placeholder && it.CompletedAt == nil {
			t.Fatalf("completed story %s without completedAt", it.ID)
		}
	}
}

func TestPreviewMoveIgnoresPlaceholderAsActive(t *testing.T) {
	items := SeedPlaceholders([]WorkItem{{ID: "1", State: Todo}})
	got := PreviewMove(items, PlaceholderID(InProgress), "1")
	if diff := cmp.Diff(items, got); diff != "" {
		t.Fatalf("placeholder drag changed collection:\n%s", diff)
	}
}

func TestPreviewMoveIntoEmptyColumnViaPlaceholder(t *testing.T) {
	items := SeedPlaceholders([]WorkItem{{ID: "1", State: Todo}})

	got := PreviewMove(items, "1", PlaceholderID(InProgress))

	s := got[indexOf(got, "1")]
	if s.State != InProgress {
		t.Fatalf("expected story dropped into in-progress, got %v", s.State)
	}
	assertContiguous(t, got)
}

func TestMoveReportsWhetherApplied(t *testing.T) {
	items := []WorkItem{{ID: "1", State: InProgress}, {ID: "2", State: Todo, Position: 1}}
	m := NewMover(nil)

	if _, ok := m.Move(items, "1", "2"); ok {
		t.Fatal("backward move reported as applied")
	}
	if _, ok := m.Move(items, "1", "1"); ok {
		t.Fatal("self move reported as applied")
	}
	got, ok := m.Move(items, "2", "1")
	if !ok {
		t.Fatal("forward move not applied")
	}
	if got[indexOf(got, "2")].State != InProgress {
		t.Fatalf("unexpected result: %#v", got)
	}
}

func columnCounts(items []WorkItem) (stories, placeholders map[State]int) {
	stories = make(map[State]int)
	placeholders = make(map[State]int)
	for _, it := range items {
		if IsPlaceholder(it) {
			placeholders[it.State]++
		} else {
			stories[it.State]++
		}
	}
	return stories, placeholders
}

func assertDroppable(t *testing.T, items []WorkItem) {
	t.Helper()
	stories, placeholders := columnCounts(items)
	for _, s := range BoardStates {
		if placeholders[s] > 1 {
			t.Fatalf("column %v holds %d placeholders", s, placeholders[s])
		}
		if stories[s] == 0 && placeholders[s] != 1 {
			t.Fatalf("empty column %v has no drop target: %#v", s, items)
		}
	}
}

func TestPreviewMoveReseedsEmptiedColumn(t *testing.T) {
	items := SeedPlaceholders([]WorkItem{
		{ID: "a", State: Todo, Position: 0},
		{ID: "b", State: Todo, Position: 1},
		{ID: "c", State: InProgress, Position: 2},
	})

	emptied := PreviewMove(items, "c", PlaceholderID(Completed))

	if got := emptied[indexOf(emptied, "c")].State; got != Completed {
		t.Fatalf("expected c completed, got %v", got)
	}
	if indexOf(emptied, PlaceholderID(InProgress)) < 0 {
		t.Fatalf("emptied in-progress column lost its drop target: %#v", emptied)
	}
	assertDroppable(t, emptied)
	assertContiguous(t, emptied)

	dropped := PreviewMove(emptied, "b", PlaceholderID(InProgress))
	if got := dropped[indexOf(dropped, "b")].State; got != InProgress {
		t.Fatalf("expected b dropped into in-progress, got %v", got)
	}
	assertDroppable(t, dropped)
	assertContiguous(t, dropped)
}

func TestPreviewMoveKeepsEveryEmptyColumnDroppable(t *testing.T) {
	items := SeedPlaceholders([]WorkItem{
		{ID: "t1", State: Todo, Position: 0},
		{ID: "t2", State: Todo, Position: 1},
		{ID: "p1", State: InProgress, Position: 2},
	})
	rng := rand.New(rand.NewSource(7))

	for step := 0; step < 500; step++ {
		active := items[rng.Intn(len(items))].ID
		over := items[rng.Intn(len(items))].ID
		items = PreviewMove(items, active, over)
		assertDroppable(t, items)
		assertContiguous(t, items)
	}
}
