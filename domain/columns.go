package domain

import "sort"

// Column is a derived view of the stories sharing a state.
type Column struct {
	State State      `json:"state"`
	Items []WorkItem `json:"items"`
}

// Columns groups the collection by state, each column sorted by position with
// ties kept in collection order.
func Columns(items []WorkItem) []Column {
	cols := make([]Column, len(BoardStates))
	for i, s := range BoardStates {
		cols[i] = Column{State: s, Items: []WorkItem{}}
	}
	for _, it := range items {
		if !it.State.Valid() {
			continue
		}
		cols[it.State].Items = append(cols[it.State].Items, it)
	}
	for i := range cols {
		col := cols[i].Items
		sort.SliceStable(col, func(a, b int) bool { return col[a].Position < col[b].Position })
	}
	return cols
}

// Arrange orders a freshly loaded collection column by column and renumbers
// it, so that array order and position agree before the first gesture.
func Arrange(items []WorkItem) []WorkItem {
	out := cloneItems(items)
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].State != out[b].State {
			return out[a].State < out[b].State
		}
		return out[a].Position < out[b].Position
	})
	renumber(out)
	return out
}
