package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatsync/internal/engine"
	"chatsync/internal/mocks"
	"chatsync/internal/rest"
)

// quiet intervals keep the poll timers from firing during short tests.
var quiet = Intervals{Conversations: time.Hour, Messages: time.Hour, Heartbeat: time.Hour}

func newFixture(api *mocks.APIMock, push *mocks.PushMock) *Supervisor {
	eng := engine.New("U1", api)
	return New(eng, push, nil, "U1", "tok", quiet)
}

func benignAPI() *mocks.APIMock {
	api := new(mocks.APIMock)
	api.On("Conversations", mock.Anything).Return(nil, nil).Maybe()
	api.On("UnreadCount", mock.Anything).Return(0, nil).Maybe()
	api.On("Presence", mock.Anything).Return(nil, nil).Maybe()
	api.On("Heartbeat", mock.Anything).Return(nil).Maybe()
	return api
}

func TestStartConnects(t *testing.T) {
	push := new(mocks.PushMock)
	push.On("Connect", mock.Anything, "tok").Return(nil).Once()
	push.On("Close").Return(nil)

	s := newFixture(benignAPI(), push)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return s.State() == StateConnected
	}, time.Second, 10*time.Millisecond)
	push.AssertExpectations(t)
}

func TestStartTwiceFails(t *testing.T) {
	push := new(mocks.PushMock)
	push.On("Connect", mock.Anything, "tok").Return(nil)
	push.On("Close").Return(nil)

	s := newFixture(benignAPI(), push)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.Error(t, s.Start(context.Background()))
}

func TestConnectIsIdempotentWhileEstablished(t *testing.T) {
	push := new(mocks.PushMock)
	push.On("Connect", mock.Anything, "tok").Return(nil).Once()

	s := newFixture(benignAPI(), push)
	require.True(t, s.Connect(context.Background()))
	require.Equal(t, StateConnected, s.State())

	// A second request must not dial again.
	require.True(t, s.Connect(context.Background()))
	push.AssertExpectations(t)
}

func TestConnectFailureStaysDisconnected(t *testing.T) {
	push := new(mocks.PushMock)
	push.On("Connect", mock.Anything, "tok").Return(errors.New("handshake refused")).Once()

	s := newFixture(benignAPI(), push)
	assert.False(t, s.Connect(context.Background()))
	assert.Equal(t, StateDisconnected, s.State())
	push.AssertExpectations(t)
}

func TestTransportDropTriggersReconnect(t *testing.T) {
	push := new(mocks.PushMock)
	push.On("Connect", mock.Anything, "tok").Return(nil).Twice()
	push.On("Close").Return(nil)

	s := newFixture(benignAPI(), push)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return s.State() == StateConnected
	}, time.Second, 10*time.Millisecond)

	push.Handler.OnClosed(errors.New("connection reset"))
	require.Equal(t, StateDisconnected, s.State())

	require.Eventually(t, func() bool {
		return s.State() == StateConnected
	}, 5*time.Second, 20*time.Millisecond)
	push.AssertExpectations(t)
}

func TestTeardownDuringHandshakeClosesTransport(t *testing.T) {
	push := new(mocks.PushMock)
	s := newFixture(benignAPI(), push)

	// The token is invalidated while the handshake is in flight, so the
	// connection that comes up afterwards must be closed, not kept.
	push.On("Connect", mock.Anything, "tok").Run(func(mock.Arguments) {
		s.TokenInvalid()
	}).Return(nil).Once()
	push.On("Close").Return(nil).Twice() // teardown close + stale handshake close

	require.False(t, s.Connect(context.Background()))
	assert.Equal(t, StateDisconnected, s.State())
	push.AssertExpectations(t)
}

func TestTokenInvalidHaltsConnecting(t *testing.T) {
	push := new(mocks.PushMock)
	push.On("Close").Return(nil)

	s := newFixture(benignAPI(), push)
	s.TokenInvalid()

	assert.False(t, s.Connect(context.Background()), "connect is refused without a valid token")
	assert.Equal(t, StateDisconnected, s.State())

	push.On("Connect", mock.Anything, "fresh").Return(nil).Once()
	s.SetToken("fresh")
	require.True(t, s.Connect(context.Background()))
	push.AssertExpectations(t)
}

func TestUnauthorizedPollHaltsPush(t *testing.T) {
	api := new(mocks.APIMock)
	api.On("Conversations", mock.Anything).Return(nil, rest.ErrUnauthorized)
	api.On("Presence", mock.Anything).Return(nil, nil).Maybe()
	api.On("Heartbeat", mock.Anything).Return(nil).Maybe()

	push := new(mocks.PushMock)
	push.On("Connect", mock.Anything, "tok").Return(nil).Maybe()
	push.On("Close").Return(nil)

	eng := engine.New("U1", api)
	s := New(eng, push, nil, "U1", "tok", Intervals{
		Conversations: 20 * time.Millisecond,
		Messages:      time.Hour,
		Heartbeat:     time.Hour,
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.tokenValid
	}, time.Second, 10*time.Millisecond, "an unauthorized poll invalidates the token")
	assert.Equal(t, StateDisconnected, s.State())
}

func TestStopTearsDownSynchronously(t *testing.T) {
	push := new(mocks.PushMock)
	push.On("Connect", mock.Anything, "tok").Return(nil)
	push.On("Close").Return(nil).Once()

	api := benignAPI()
	eng := engine.New("U1", api)
	s := New(eng, push, nil, "U1", "tok", quiet)
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		return s.State() == StateConnected
	}, time.Second, 10*time.Millisecond)

	handler := push.Handler
	s.Stop()
	require.Equal(t, StateDisconnected, s.State())

	// A frame from a stale callback after teardown must be a no-op.
	handler.OnFrame([]byte(`{"type":"message","message":{"id":"m1","conversationId":"C1","senderId":"U2","content":"late"}}`))
	assert.Empty(t, eng.Messages("C1"))

	// Stop twice is fine.
	s.Stop()
	push.AssertExpectations(t)
}

func TestPollRunsWhilePushDisconnected(t *testing.T) {
	api := new(mocks.APIMock)
	var calls atomic.Int32
	api.On("Conversations", mock.Anything).Run(func(mock.Arguments) { calls.Add(1) }).Return(nil, nil)
	api.On("UnreadCount", mock.Anything).Return(0, nil)
	api.On("Presence", mock.Anything).Return(nil, nil).Maybe()
	api.On("Heartbeat", mock.Anything).Return(nil).Maybe()

	push := new(mocks.PushMock)
	push.On("Connect", mock.Anything, "tok").Return(errors.New("gateway down"))
	push.On("Close").Return(nil)

	eng := engine.New("U1", api)
	s := New(eng, push, nil, "U1", "tok", Intervals{
		Conversations: 20 * time.Millisecond,
		Messages:      time.Hour,
		Heartbeat:     time.Hour,
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return calls.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond, "the poll path keeps the app usable without push")
	assert.NotEqual(t, StateConnected, s.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
}
