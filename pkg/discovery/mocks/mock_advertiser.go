// Package mocks holds testify mocks for the discovery interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/tembridge/tembridge-go/pkg/discovery"
)

// MockAdvertiser is a discovery.Advertiser whose calls are set up with On.
type MockAdvertiser struct {
	mock.Mock
}

var _ discovery.Advertiser = (*MockAdvertiser)(nil)

// NewMockAdvertiser returns a mock whose expectations are asserted when the
// test ends.
func NewMockAdvertiser(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockAdvertiser {
	m := &MockAdvertiser{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Advertise records the call and returns the configured error.
func (m *MockAdvertiser) Advertise(ctx context.Context, info *discovery.ServiceInfo) error {
	args := m.Called(ctx, info)
	return args.Error(0)
}

// Stop records the call and returns the configured error.
func (m *MockAdvertiser) Stop(kind string) error {
	args := m.Called(kind)
	return args.Error(0)
}

// StopAll records the call.
func (m *MockAdvertiser) StopAll() {
	m.Called()
}
