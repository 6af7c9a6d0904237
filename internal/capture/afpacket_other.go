//go:build !linux

package capture

import (
	"fmt"

	"firestige.xyz/anansi/internal/core"
)

// AFPacketOpener is only functional on linux.
type AFPacketOpener struct{}

func (AFPacketOpener) Open(device string, opts Options) (Handle, error) {
	return nil, fmt.Errorf("%w: %s: AF_PACKET requires linux", core.ErrHandleOpen, device)
}
