package domain

import (
	"sort"
	"time"
)

// Sprint is the time box a board belongs to.
type Sprint struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	Status    string    `json:"status"`
}

// Member records a board member.
type Member struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// BurndownPoint is a sample of remaining story points.
type BurndownPoint struct {
	Date            string `json:"date"`
	RemainingPoints int    `json:"remainingPoints"`
}

// DeveloperTime is the time spent by a member on the sprint's stories.
type DeveloperTime struct {
	Developer string  `json:"developer"`
	TimeSpent float64 `json:"timeSpent"`
}

const dateLayout = "2006-01-02"

// Burndown starts at the sprint's total points and drops by each completed
// story's points in completion order.
func Burndown(sprint Sprint, items []WorkItem) []BurndownPoint {
	total := 0
	done := make([]WorkItem, 0, len(items))
	for _, it := range items {
		if IsPlaceholder(it) {
			continue
		}
		total += it.StoryPoints
		if it.CompletedAt != nil {
			done = append(done, it)
		}
	}
	sort.SliceStable(done, func(a, b int) bool { return done[a].CompletedAt.Before(*done[b].CompletedAt) })

	points := make([]BurndownPoint, 0, len(done)+1)
	points = append(points, BurndownPoint{Date: sprint.StartDate.UTC().Format(dateLayout), RemainingPoints: total})
	remaining := total
	for _, it := range done {
		remaining -= it.StoryPoints
		points = append(points, BurndownPoint{Date: it.CompletedAt.UTC().Format(dateLayout), RemainingPoints: remaining})
	}
	return points
}

// DeveloperTimes sums recorded time per member, keeping the members' order.
func DeveloperTimes(members []Member, items []WorkItem) []DeveloperTime {
	spent := make(map[string]float64, len(members))
	for _, it := range items {
		if IsPlaceholder(it) || it.TimeTaken == nil {
			continue
		}
		spent[it.DeveloperID] += *it.TimeTaken
	}
	out := make([]DeveloperTime, 0, len(members))
	for _, m := range members {
		out = append(out, DeveloperTime{Developer: m.Name, TimeSpent: spent[m.ID]})
	}
	return out
}
