package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logan496/elearning-chat/internal/chattest"
	"github.com/logan496/elearning-chat/internal/models"
	"github.com/logan496/elearning-chat/internal/protocol"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

func newTestSession(t *testing.T, srv *chattest.Server, token string) (*Session, *Metrics) {
	t.Helper()
	metrics := NewMetrics(prometheus.NewRegistry())
	sess := NewSession(SessionConfig{
		URL:         srv.URL(),
		Token:       token,
		BackoffBase: 10 * time.Millisecond,
		BackoffCap:  50 * time.Millisecond,
		Logger:      zerolog.Nop(),
		Metrics:     metrics,
	})
	t.Cleanup(sess.Close)
	return sess, metrics
}

func TestSessionConnectsAndDisconnects(t *testing.T) {
	srv := chattest.NewServer()
	defer srv.Close()
	srv.AddUser(models.User{ID: 1, Username: "me"}, "token-1")

	sess, metrics := newTestSession(t, srv, "token-1")

	var mu sync.Mutex
	var states []ConnState
	sess.OnStateChange(func(s ConnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	sess.Connect(context.Background())
	require.Eventually(t, func() bool {
		return sess.State() == StateConnected
	}, waitFor, tick)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Connects))

	sess.Close()
	assert.Equal(t, StateDisconnected, sess.State())
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, StateConnected)
}

func TestSessionRejectsBadCredential(t *testing.T) {
	srv := chattest.NewServer()
	defer srv.Close()
	srv.AddUser(models.User{ID: 1, Username: "me"}, "token-1")

	metrics := NewMetrics(prometheus.NewRegistry())
	sess := NewSession(SessionConfig{
		URL:         srv.URL(),
		Token:       "wrong",
		MaxAttempts: 2,
		BackoffBase: 10 * time.Millisecond,
		Logger:      zerolog.Nop(),
		Metrics:     metrics,
	})
	defer sess.Close()

	// The failure is observable state, never a panic or an error return.
	sess.Connect(context.Background())
	require.Eventually(t, func() bool {
		return sess.State() == StateDisconnected
	}, waitFor, tick)
}

func TestSessionReconnectsAfterDrop(t *testing.T) {
	srv := chattest.NewServer()
	defer srv.Close()
	srv.AddUser(models.User{ID: 1, Username: "me"}, "token-1")

	sess, metrics := newTestSession(t, srv, "token-1")
	sess.Connect(context.Background())
	require.Eventually(t, func() bool {
		return sess.State() == StateConnected && srv.Connected(1)
	}, waitFor, tick)

	srv.Disconnect(1)
	require.Eventually(t, func() bool {
		return srv.Connected(1) && testutil.ToFloat64(metrics.Connects) == 2
	}, waitFor, tick, "the session reconnects on its own")
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.Reconnects), float64(1))
}

func TestSessionLastHandlerRegistrationWins(t *testing.T) {
	srv := chattest.NewServer()
	defer srv.Close()
	srv.AddUser(models.User{ID: 1, Username: "me"}, "token-1")

	sess, _ := newTestSession(t, srv, "token-1")

	firstCalled := make(chan struct{}, 1)
	secondCalled := make(chan struct{}, 1)
	sess.On(protocol.EventGeneralNew, func([]byte) { firstCalled <- struct{}{} })
	sess.On(protocol.EventGeneralNew, func([]byte) { secondCalled <- struct{}{} })

	sess.Connect(context.Background())
	require.Eventually(t, func() bool { return srv.Connected(1) }, waitFor, tick)

	sender := models.User{ID: 2, Username: "ana"}
	require.NoError(t, srv.Inject(1, protocol.EventGeneralNew, protocol.InboundMessage{
		ID: 10, Content: "hi", CreatedAt: time.Now(), Sender: &sender,
	}))

	select {
	case <-secondCalled:
	case <-time.After(waitFor):
		t.Fatal("replacement handler never ran")
	}
	select {
	case <-firstCalled:
		t.Fatal("replaced handler must not run")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionOffRemovesHandler(t *testing.T) {
	srv := chattest.NewServer()
	defer srv.Close()
	srv.AddUser(models.User{ID: 1, Username: "me"}, "token-1")

	sess, _ := newTestSession(t, srv, "token-1")

	called := make(chan struct{}, 1)
	sess.On(protocol.EventGeneralNew, func([]byte) { called <- struct{}{} })
	sess.Off(protocol.EventGeneralNew)

	sess.Connect(context.Background())
	require.Eventually(t, func() bool { return srv.Connected(1) }, waitFor, tick)

	sender := models.User{ID: 2, Username: "ana"}
	require.NoError(t, srv.Inject(1, protocol.EventGeneralNew, protocol.InboundMessage{
		ID: 11, Content: "hi", CreatedAt: time.Now(), Sender: &sender,
	}))

	select {
	case <-called:
		t.Fatal("removed handler must not run")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSessionDropsEmitWhileDisconnected(t *testing.T) {
	srv := chattest.NewServer()
	defer srv.Close()
	srv.AddUser(models.User{ID: 1, Username: "me"}, "token-1")

	sess, metrics := newTestSession(t, srv, "token-1")

	// Never connected: the emit is dropped, not queued.
	sess.Emit(protocol.EventSendGeneral, protocol.GeneralSend{Content: "hi", TempID: "t1"})
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.DroppedEmits))
}
