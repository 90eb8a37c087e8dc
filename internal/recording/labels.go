package recording

import (
	"fmt"
	"strings"
)

// Board placements.
const (
	BoardWristLeft  = 0
	BoardBelt       = 1
	BoardAnkleRight = 2
)

// Activities that can be declared for a trial.
const (
	ActivityStanding = iota
	ActivityWalking
	ActivityRunning
	ActivityCycling
	ActivityTram
	ActivityPolybahn
)

var activityNames = []string{"standing", "walking", "running", "cycling", "tram", "polybahn"}

// ActivityName returns the name of an activity code.
func ActivityName(a int) string {
	if a < 0 || a >= len(activityNames) {
		return fmt.Sprintf("activity(%d)", a)
	}
	return activityNames[a]
}

// Labels describe who recorded a trial and how. Every field is optional in
// the file; Validate only checks the fields that are present.
type Labels struct {
	BoardLoc   *int   `json:"board_loc,omitempty"`
	PathIdx    *int   `json:"path_idx,omitempty"`
	Activities []int  `json:"activities,omitempty"`
	Gender     string `json:"gender,omitempty"`
	BodyHeight *int   `json:"body_height,omitempty"`
	Legi       string `json:"legi,omitempty"`
}

// Validate reports the first label outside its allowed range.
func (l *Labels) Validate() error {
	if l == nil {
		return nil
	}
	if l.BoardLoc != nil && (*l.BoardLoc < BoardWristLeft || *l.BoardLoc > BoardAnkleRight) {
		return fmt.Errorf("board_loc must be 0-2, got %d", *l.BoardLoc)
	}
	if l.PathIdx != nil && (*l.PathIdx < 0 || *l.PathIdx > 4) {
		return fmt.Errorf("path_idx must be 0-4, got %d", *l.PathIdx)
	}
	for _, a := range l.Activities {
		if a < ActivityStanding || a > ActivityPolybahn {
			return fmt.Errorf("activity must be 0-5, got %d", a)
		}
	}
	switch l.Gender {
	case "", "f", "m", "n/a":
	default:
		return fmt.Errorf("gender must be f, m or n/a, got %q", l.Gender)
	}
	if l.BodyHeight != nil && (*l.BodyHeight < 130 || *l.BodyHeight > 239) {
		return fmt.Errorf("body_height must be 130-239 cm, got %d", *l.BodyHeight)
	}
	if l.Legi != "" && len(strings.TrimSpace(l.Legi)) != 10 {
		return fmt.Errorf("legi must have 10 characters, got %q", l.Legi)
	}
	return nil
}
