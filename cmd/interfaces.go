package cmd

import (
	"context"

	"github.com/anicoll/deimic-pi/internal/pkg/device"
	"github.com/anicoll/deimic-pi/internal/pkg/state"
)

// Device defines what run expects from a device role.
type Device interface {
	Execute(ctx context.Context) error
	Close() error
}

// Requester defines the requests the request command sends to the bridge.
type Requester interface {
	State() (state.Snapshot, error)
	Command(target device.Signature, frames ...string) error
	Record(payload any) (string, error)
	Close() error
}
