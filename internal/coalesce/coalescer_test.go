package coalesce

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBurstProducesSingleTurnWithLastFragment(t *testing.T) {
	var mu sync.Mutex
	var turns []Turn

	c := New(50*time.Millisecond, func(turn Turn) {
		mu.Lock()
		turns = append(turns, turn)
		mu.Unlock()
	})

	c.Submit("5218112345678", "hola")
	c.Submit("5218112345678", "quiero info")
	c.Submit("5218112345678", "quiero info de precios")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(turns) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "quiero info de precios", turns[0].Text)
	assert.Equal(t, "5218112345678", turns[0].SenderKey)
	assert.NotEmpty(t, turns[0].ID)
	assert.Zero(t, c.PendingCount())
}

func TestSendersAreIndependent(t *testing.T) {
	var mu sync.Mutex
	got := make(map[string]string)

	c := New(30*time.Millisecond, func(turn Turn) {
		mu.Lock()
		got[turn.SenderKey] = turn.Text
		mu.Unlock()
	})

	c.Submit("111", "uno")
	c.Submit("222", "dos")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "uno", got["111"])
	assert.Equal(t, "dos", got["222"])
}

func TestFragmentResetsQuietWindow(t *testing.T) {
	var mu sync.Mutex
	fired := 0

	c := New(60*time.Millisecond, func(Turn) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	c.Submit("333", "a")
	time.Sleep(40 * time.Millisecond)
	c.Submit("333", "b") // resets, first timer must not fire
	time.Sleep(40 * time.Millisecond)

	mu.Lock()
	assert.Zero(t, fired)
	mu.Unlock()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHandlerPanicClearsPendingState(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	c := New(20*time.Millisecond, func(Turn) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("boom")
		}
	})

	c.Submit("444", "primero")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, 5*time.Millisecond)

	// The sender must not be blocked after the panic.
	c.Submit("444", "segundo")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, time.Second, 5*time.Millisecond)
}
