//go:build !linux

package ostrigger

import (
	"errors"

	"courtbot/pkg/logx"
)

var ErrUnsupported = errors.New("ostrigger: unsupported OS (linux only)")

func newPlatformRegistry(unit string, userScope bool, log logx.Logger) (Registry, error) {
	log.Warn("os trigger unsupported on this platform, falling back to in-process backstop only")
	return Nop{}, nil
}
