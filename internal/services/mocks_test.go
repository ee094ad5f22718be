package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"carwash/internal/activation"
	"carwash/pkg/contracts/domain"
)

// MockVerifier is a mock for ActivationVerifier
type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, info domain.DeviceInfo, envelopeJSON string) (*activation.VerificationResult, error) {
	args := m.Called(ctx, info, envelopeJSON)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*activation.VerificationResult), args.Error(1)
}

// MockTokenValidator is a mock for TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) Validate(ctx context.Context, encoded string) (activation.Token, error) {
	args := m.Called(ctx, encoded)
	return args.Get(0).(activation.Token), args.Error(1)
}

// MockAuditStore is a mock for AuditStore
type MockAuditStore struct {
	mock.Mock
}

func (m *MockAuditStore) Create(ctx context.Context, rec *domain.ActivationRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockAuditStore) ListByDevice(ctx context.Context, deviceID string, limit int) ([]domain.ActivationRecord, error) {
	args := m.Called(ctx, deviceID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ActivationRecord), args.Error(1)
}

// MockKeyProbe is a mock for KeyProbe
type MockKeyProbe struct {
	mock.Mock
}

func (m *MockKeyProbe) IsSecure(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

// MockPinger is a mock for Pinger
type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
