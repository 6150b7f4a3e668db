package action

import (
	"strings"

	"pulse/internal/config"
)

// UnitState is the recorded outcome of a systemd check.
type UnitState struct {
	Unit     string `json:"unit"`
	Active   string `json:"active"`
	SubState string `json:"sub_state,omitempty"`
}

type systemdAction struct {
	unit string
}

func (a *systemdAction) Kind() string { return config.ActionSystemd }

// unitName appends ".service" to bare unit names.
func unitName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, ".") {
		return s
	}
	return s + ".service"
}
