// Package gate answers "is this installation activated" on the POS side. The answer
// comes only from local storage; the server is never consulted once a token is saved.
package gate

import (
	"fmt"
	"log/slog"
)

// Storage keys shared with earlier POS builds
const (
	StatusKey = "carwash_activation_status"
	TokenKey  = "carwash_activation_token"

	statusActivated = "activated"
)

// TokenStore is a small string key-value store. Get returns "" for a missing key.
type TokenStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// ActivationGate is the client-local activation capability
type ActivationGate struct {
	store  TokenStore
	logger *slog.Logger
}

// New creates a gate over store
func New(store TokenStore, logger *slog.Logger) *ActivationGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivationGate{
		store:  store,
		logger: logger.With(slog.String("component", "activation_gate")),
	}
}

// IsActivatedLocally reports whether the status flag is set and a token is present.
// Storage errors count as not activated.
func (g *ActivationGate) IsActivatedLocally() bool {
	status, err := g.store.Get(StatusKey)
	if err != nil {
		g.logger.Warn("failed to read activation status", slog.String("error", err.Error()))
		return false
	}
	token, err := g.store.Get(TokenKey)
	if err != nil {
		g.logger.Warn("failed to read activation token", slog.String("error", err.Error()))
		return false
	}
	return status == statusActivated && token != ""
}

// Save marks the installation activated with token
func (g *ActivationGate) Save(token string) error {
	if token == "" {
		return fmt.Errorf("activation token is empty")
	}
	if err := g.store.Set(StatusKey, statusActivated); err != nil {
		return fmt.Errorf("failed to save activation status: %w", err)
	}
	if err := g.store.Set(TokenKey, token); err != nil {
		return fmt.Errorf("failed to save activation token: %w", err)
	}
	g.logger.Info("activation saved locally")
	return nil
}

// Clear removes all local activation data
func (g *ActivationGate) Clear() error {
	if err := g.store.Remove(StatusKey); err != nil {
		return fmt.Errorf("failed to clear activation status: %w", err)
	}
	if err := g.store.Remove(TokenKey); err != nil {
		return fmt.Errorf("failed to clear activation token: %w", err)
	}
	g.logger.Info("local activation cleared")
	return nil
}

// Token returns the stored activation token, or "" when none is saved
func (g *ActivationGate) Token() (string, error) {
	return g.store.Get(TokenKey)
}
