package domain

import (
	"strconv"
	"testing"
)

func benchmarkBoard(n int) []WorkItem {
	items := make([]WorkItem, n)
	for i := range items {
		items[i] = WorkItem{ID: strconv.Itoa(i), State: BoardStates[i*len(BoardStates)/n], Position: i}
	}
	return items
}

func BenchmarkPreviewMove(b *testing.B) {
	items := benchmarkBoard(300)
	m := NewMover(nil)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.PreviewMove(items, "0", "299")
	}
}

func BenchmarkCommitMove(b *testing.B) {
	items := SeedPlaceholders(benchmarkBoard(300))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = CommitMove(items)
	}
}
