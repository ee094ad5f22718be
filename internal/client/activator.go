package client

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "carwash/internal/errors"
	"carwash/internal/gate"
	"carwash/pkg/contracts/domain"
)

// ActivationAPI is the part of Client the Activator needs
type ActivationAPI interface {
	Activate(ctx context.Context, info domain.DeviceInfo, signature string) (*domain.ActivationResponse, error)
	VerifyToken(ctx context.Context, token string) (*domain.VerifyTokenResponse, error)
}

// Activator runs the POS side of activation: submit, then persist the token locally
type Activator struct {
	api    ActivationAPI
	gate   *gate.ActivationGate
	logger *slog.Logger
}

// NewActivator creates an activator over api and the local gate
func NewActivator(api ActivationAPI, g *gate.ActivationGate, logger *slog.Logger) *Activator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activator{
		api:    api,
		gate:   g,
		logger: logger.With(slog.String("component", "activator")),
	}
}

// Activate submits info with the .sig contents. On success the token is saved to
// the gate before returning. An unsuccessful response is returned without error.
func (a *Activator) Activate(ctx context.Context, info domain.DeviceInfo, signature string) (*domain.ActivationResponse, error) {
	if _, err := ParseSignature([]byte(signature)); err != nil {
		return nil, err
	}

	resp, err := a.api.Activate(ctx, info, signature)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		a.logger.WarnContext(ctx, "activation rejected by server",
			slog.String("device_id", info.DeviceID),
			slog.String("message", resp.Message),
		)
		return resp, nil
	}

	if err := a.gate.Save(resp.ActivationToken); err != nil {
		return nil, apperrors.NewActivationError("activation succeeded but the token could not be stored", err)
	}
	a.logger.InfoContext(ctx, "device activated",
		slog.String("device_id", info.DeviceID),
		slog.String("license_type", resp.LicenseType),
	)
	return resp, nil
}

// VerifyStored sends the locally stored token to the server
func (a *Activator) VerifyStored(ctx context.Context) (*domain.VerifyTokenResponse, error) {
	token, err := a.gate.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to read stored token: %w", err)
	}
	if token == "" {
		return nil, ErrNotActivated
	}
	return a.api.VerifyToken(ctx, token)
}

// IsActivated is the local check. It never calls the server.
func (a *Activator) IsActivated() bool {
	return a.gate.IsActivatedLocally()
}

// Deactivate clears local activation data
func (a *Activator) Deactivate() error {
	return a.gate.Clear()
}
