//go:build !linux

package restarter

import logx "restartbot/pkg/logx"

func newSystemd(unit string, userBus bool, log logx.Logger) (Restarter, error) {
	return nil, ErrUnsupported
}
