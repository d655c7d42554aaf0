package engine

import (
	"context"
	"log/slog"
)

// ActivationStore reads the persisted activation toggles.
type ActivationStore interface {
	GlobalActive(ctx context.Context) (bool, error)
	UserActive(ctx context.Context, phone string) (bool, error)
}

// Gate decides whether the bot may answer a conversation. Both the global
// toggle and the per-conversation toggle must be on. A store read failure
// counts as inactive: when in doubt the bot stays quiet.
type Gate struct {
	store ActivationStore
}

func NewGate(store ActivationStore) *Gate {
	return &Gate{store: store}
}

func (g *Gate) Allows(ctx context.Context, phone string) bool {
	global, err := g.store.GlobalActive(ctx)
	if err != nil {
		slog.Warn("global activation read failed, staying quiet", "error", err)
		return false
	}
	if !global {
		return false
	}

	user, err := g.store.UserActive(ctx, phone)
	if err != nil {
		slog.Warn("user activation read failed, staying quiet", "phone", phone, "error", err)
		return false
	}
	return user
}
