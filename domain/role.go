package domain

import "fmt"

// Role is the capability set granted to a board member. The set of roles is
// closed; new variants are added here, never by string comparison at call
// sites.
type Role interface {
	Name() string
	CanReorder() bool
	CanViewStatistics() bool
	role()
}

// ScrumMaster manages sprints and reorders the board.
type ScrumMaster struct{}

func (ScrumMaster) Name() string            { return "SM" }
func (ScrumMaster) CanReorder() bool        { return true }
func (ScrumMaster) CanViewStatistics() bool { return true }
func (ScrumMaster) role()                   {}

// Developer sees the sprint board read-only.
type Developer struct{}

func (Developer) Name() string            { return "D" }
func (Developer) CanReorder() bool        { return false }
func (Developer) CanViewStatistics() bool { return true }
func (Developer) role()                   {}

// ParseRole maps a stored role code to its Role.
func ParseRole(code string) (Role, error) {
	switch code {
	case "SM":
		return ScrumMaster{}, nil
	case "D":
		return Developer{}, nil
	default:
		return nil, fmt.Errorf("unknown role %q", code)
	}
}
