package model

import (
	"fmt"
	"time"
)

// ModuleState is the lifecycle flag persisted for every deployed module.
type ModuleState string

// Module state constants. The string values are what the store persists.
const (
	StateStarted ModuleState = "Started"
	StateStopped ModuleState = "Stopped"
)

// ParseModuleState converts s into a ModuleState. Matching is exact.
func ParseModuleState(s string) (ModuleState, error) {
	switch ModuleState(s) {
	case StateStarted:
		return StateStarted, nil
	case StateStopped:
		return StateStopped, nil
	default:
		return "", fmt.Errorf("invalid module state %q", s)
	}
}

func (s ModuleState) String() string {
	return string(s)
}

// Module is the metadata of a deployed executable. The binary itself is only
// loaded on demand.
type Module struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	State     ModuleState `json:"state"`
	Size      int64       `json:"size"`
	CreatedAt time.Time   `json:"created_at"`
}
