package cmd

import (
	"context"
	"errors"

	"github.com/anicoll/deimic-pi/internal/pkg/device"
	"github.com/anicoll/deimic-pi/internal/pkg/state"
)

// MockDevice is a mock implementation of the Device interface.
type MockDevice struct {
	ExecuteFunc func(ctx context.Context) error
	CloseFunc   func() error
	closes      int
}

func (m *MockDevice) Execute(ctx context.Context) error {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx)
	}
	<-ctx.Done()
	return nil
}

func (m *MockDevice) Close() error {
	m.closes++
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// MockRequester is a mock implementation of the Requester interface.
type MockRequester struct {
	StateFunc   func() (state.Snapshot, error)
	CommandFunc func(target device.Signature, frames ...string) error
	RecordFunc  func(payload any) (string, error)
}

func (m *MockRequester) State() (state.Snapshot, error) {
	if m.StateFunc != nil {
		return m.StateFunc()
	}
	return state.Snapshot{}, errors.New("mocked State not implemented")
}

func (m *MockRequester) Command(target device.Signature, frames ...string) error {
	if m.CommandFunc != nil {
		return m.CommandFunc(target, frames...)
	}
	return errors.New("mocked Command not implemented")
}

func (m *MockRequester) Record(payload any) (string, error) {
	if m.RecordFunc != nil {
		return m.RecordFunc(payload)
	}
	return "", errors.New("mocked Record not implemented")
}

func (m *MockRequester) Close() error { return nil }
