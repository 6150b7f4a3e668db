//go:build !linux

package action

import "context"

func (a *systemdAction) Run(context.Context, Warner) (any, error) {
	return nil, ErrUnsupported
}
