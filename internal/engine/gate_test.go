package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubActivation struct {
	global    bool
	globalErr error
	user      bool
	userErr   error
}

func (s *stubActivation) GlobalActive(context.Context) (bool, error) {
	return s.global, s.globalErr
}

func (s *stubActivation) UserActive(context.Context, string) (bool, error) {
	return s.user, s.userErr
}

func TestGateRequiresBothToggles(t *testing.T) {
	cases := []struct {
		name   string
		global bool
		user   bool
		want   bool
	}{
		{"both on", true, true, true},
		{"global off", false, true, false},
		{"user off", true, false, false},
		{"both off", false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGate(&stubActivation{global: tc.global, user: tc.user})
			assert.Equal(t, tc.want, g.Allows(context.Background(), "111"))
		})
	}
}

func TestGateFailsClosedOnStoreErrors(t *testing.T) {
	boom := errors.New("redis down")

	g := NewGate(&stubActivation{globalErr: boom})
	assert.False(t, g.Allows(context.Background(), "111"))

	g = NewGate(&stubActivation{global: true, user: true, userErr: boom})
	assert.False(t, g.Allows(context.Background(), "111"))
}
