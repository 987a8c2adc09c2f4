package identity

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/studybuddy/internal/logging"
)

type fakeResolver struct {
	label     string
	meErr     error
	logoutErr error
	logouts   int
	block     chan struct{}
}

func (f *fakeResolver) Me(ctx context.Context) (string, error) {
	if f.block != nil {
		<-f.block
	}
	return f.label, f.meErr
}

func (f *fakeResolver) Logout(ctx context.Context) error {
	f.logouts++
	return f.logoutErr
}

func TestGate_StartsUnresolvedAndFailsClosed(t *testing.T) {
	g := NewGate(&fakeResolver{}, "/login", logging.Discard())
	require.Equal(t, StateUnresolved, g.Current().State)
	require.False(t, g.Identified())
}

func TestGate_ResolveIdentified(t *testing.T) {
	g := NewGate(&fakeResolver{label: " ada@example.test "}, "/login", logging.Discard())

	var seen []Identity
	g.Subscribe(func(id Identity) { seen = append(seen, id) })

	id := g.Resolve(context.Background())
	require.Equal(t, Identity{State: StateIdentified, Label: "ada@example.test"}, id)
	require.True(t, g.Identified())
	require.Len(t, seen, 1)
}

func TestGate_ResolveEmptyIsAnonymous(t *testing.T) {
	g := NewGate(&fakeResolver{label: ""}, "/login", logging.Discard())
	require.Equal(t, StateAnonymous, g.Resolve(context.Background()).State)
}

func TestGate_ResolveErrorIsAnonymous(t *testing.T) {
	g := NewGate(&fakeResolver{label: "x@example.test", meErr: fmt.Errorf("offline")}, "/login", logging.Discard())
	require.Equal(t, StateAnonymous, g.Resolve(context.Background()).State)
}

func TestGate_LogoutUnconditional(t *testing.T) {
	r := &fakeResolver{label: "ada@example.test", logoutErr: fmt.Errorf("500")}
	g := NewGate(r, "/login", logging.Discard())
	g.Resolve(context.Background())
	require.True(t, g.Identified())

	var last Identity
	g.Subscribe(func(id Identity) { last = id })

	g.Logout(context.Background())
	require.Equal(t, 1, r.logouts)
	require.Equal(t, StateAnonymous, g.Current().State)
	require.Equal(t, StateAnonymous, last.State)
}

func TestGate_LogoutSupersedesInflightResolve(t *testing.T) {
	r := &fakeResolver{label: "ada@example.test", block: make(chan struct{})}
	g := NewGate(r, "/login", logging.Discard())

	done := make(chan Identity)
	go func() { done <- g.Resolve(context.Background()) }()

	// Give the resolve a chance to take its token, then log out.
	require.Eventually(t, func() bool {
		g.mu.RLock()
		defer g.mu.RUnlock()
		return g.seq == 1
	}, time.Second, time.Millisecond)

	g.Logout(context.Background())
	close(r.block)

	<-done
	require.Equal(t, StateAnonymous, g.Current().State)
}

// answeringResolver signals on answered just before Me returns.
type answeringResolver struct {
	answered chan struct{}
}

func (r *answeringResolver) Me(ctx context.Context) (string, error) {
	r.answered <- struct{}{}
	return "ada@example.test", nil
}

func (r *answeringResolver) Logout(ctx context.Context) error { return nil }

func TestGate_LogoutAfterAnswerWins(t *testing.T) {
	for i := 0; i < 200; i++ {
		r := &answeringResolver{answered: make(chan struct{})}
		g := NewGate(r, "/login", logging.Discard())

		var mu sync.Mutex
		var last Identity
		g.Subscribe(func(id Identity) {
			mu.Lock()
			last = id
			mu.Unlock()
		})

		done := make(chan struct{})
		go func() {
			g.Resolve(context.Background())
			close(done)
		}()

		<-r.answered
		g.Logout(context.Background())
		<-done

		require.Equal(t, StateAnonymous, g.Current().State, "iteration %d", i)
		mu.Lock()
		require.Equal(t, StateAnonymous, last.State, "iteration %d", i)
		mu.Unlock()
	}
}

func TestGate_LoginURL(t *testing.T) {
	g := NewGate(&fakeResolver{}, "https://idp.example.test/authorize", logging.Discard())
	require.Equal(t, "https://idp.example.test/authorize", g.LoginURL())
}
