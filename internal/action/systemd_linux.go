//go:build linux

package action

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Run reads the unit's state over the system bus. Anything but "active" is
// an error; "activating" and "reloading" are reported as warnings first.
func (a *systemdAction) Run(ctx context.Context, w Warner) (any, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("systemd: connect: %w", err)
	}
	defer conn.Close()

	props, err := conn.GetUnitPropertiesContext(ctx, a.unit)
	if err != nil {
		if isNoSuchUnitErr(err) {
			return nil, fmt.Errorf("systemd: unit %s not found", a.unit)
		}
		return nil, fmt.Errorf("systemd: %s: %w", a.unit, err)
	}
	st := UnitState{Unit: a.unit, Active: stringProp(props, "ActiveState"), SubState: stringProp(props, "SubState")}
	if stringProp(props, "LoadState") == "not-found" {
		return st, fmt.Errorf("systemd: unit %s not found", a.unit)
	}
	switch st.Active {
	case "active":
		return st, nil
	case "activating", "reloading":
		warn(w, fmt.Sprintf("%s is %s", a.unit, st.Active))
	}
	return st, fmt.Errorf("systemd: %s is %s", a.unit, st.Active)
}

func stringProp(props map[string]interface{}, key string) string {
	s, _ := props[key].(string)
	return s
}

func isNoSuchUnitErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NoSuchUnit")
}
