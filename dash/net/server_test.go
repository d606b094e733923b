package dashnet_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dashnet "github.com/temoto/ets2dash/dash/net"
	"github.com/temoto/ets2dash/log2"
)

func testServer(t testing.TB) (*dashnet.Server, chan net.Addr) {
	accepted := make(chan net.Addr, 8)
	log := log2.NewTest(t, log2.LDebug)
	log.SetPrefix("server: ")
	s := dashnet.NewServer(dashnet.ServerOptions{
		Log:          log,
		WriteTimeout: time.Second,
		OnAccept:     func(a net.Addr) { accepted <- a },
	})
	require.NoError(t, s.Listen("127.0.0.1:0"))
	return s, accepted
}

func waitAccept(t testing.TB, ch <-chan net.Addr) {
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for accept")
	}
}

func TestServerBroadcast(t *testing.T) {
	t.Parallel()
	s, accepted := testServer(t)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c1, err := dashnet.Dial(ctx, s.Addr().String(), testConnOptions(t))
	require.NoError(t, err)
	defer c1.Close()
	waitAccept(t, accepted)
	c2, err := dashnet.Dial(ctx, s.Addr().String(), testConnOptions(t))
	require.NoError(t, err)
	defer c2.Close()
	waitAccept(t, accepted)
	assert.Equal(t, 2, s.Clients())

	payloads := []string{`{"state":"startup","telemetry":{},"config":{}}`, `{"state":"drive","telemetry":{"truck":{"speed":42}}}`}
	for _, p := range payloads {
		sent, err := s.Broadcast([]byte(p))
		require.NoError(t, err)
		assert.Equal(t, 2, sent)
	}
	for _, c := range []*dashnet.Conn{c1, c2} {
		for _, p := range payloads {
			got, err := c.Receive(ctx)
			require.NoError(t, err)
			assert.Equal(t, p, string(got))
		}
	}
	assert.Equal(t, int64(2), s.Stat().Frames.Count.Value())
	assert.Equal(t, int64(2*(2*dashnet.FrameHeaderSize+len(payloads[0])+len(payloads[1]))), s.Stat().Wire.Value())
}

func TestServerDropsClosedClient(t *testing.T) {
	t.Parallel()
	s, accepted := testServer(t)
	defer s.Close()

	c, err := dashnet.Dial(context.Background(), s.Addr().String(), testConnOptions(t))
	require.NoError(t, err)
	waitAccept(t, accepted)
	require.Equal(t, 1, s.Clients())
	c.Close()

	assert.Eventually(t, func() bool {
		_, _ = s.Broadcast([]byte(`{"state":"pause"}`))
		return s.Clients() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServerBroadcastOverflow(t *testing.T) {
	t.Parallel()
	s, _ := testServer(t)
	defer s.Close()
	sent, err := s.Broadcast(make([]byte, dashnet.MaxPayloadSize+1))
	assert.Equal(t, 0, sent)
	assert.Equal(t, dashnet.ErrFrameLenOverflow, errors.Cause(err))
}

func TestServerCloseDisconnectsClients(t *testing.T) {
	t.Parallel()
	s, accepted := testServer(t)
	c, err := dashnet.Dial(context.Background(), s.Addr().String(), testConnOptions(t))
	require.NoError(t, err)
	defer c.Close()
	waitAccept(t, accepted)

	require.NoError(t, s.Close())
	assert.Equal(t, 0, s.Clients())
	_, err = c.Receive(context.Background())
	assert.Equal(t, dashnet.ErrConnectionClosed, errors.Cause(err))

	err = s.Listen("127.0.0.1:0")
	assert.Error(t, err)
}

func TestServerListenTwice(t *testing.T) {
	t.Parallel()
	s, _ := testServer(t)
	defer s.Close()
	err := s.Listen("127.0.0.1:0")
	require.Error(t, err)
	assert.True(t, errors.IsAlreadyExists(err))
}

func TestServerDropsStalledClient(t *testing.T) {
	t.Parallel()
	accepted := make(chan net.Addr, 2)
	s := dashnet.NewServer(dashnet.ServerOptions{
		Log:          log2.NewTest(t, log2.LInfo),
		WriteTimeout: 100 * time.Millisecond,
		OnAccept:     func(a net.Addr) { accepted <- a },
	})
	require.NoError(t, s.Listen("127.0.0.1:0"))
	defer s.Close()

	// connected, never reads
	stalled, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer stalled.Close()
	_ = stalled.(*net.TCPConn).SetReadBuffer(4 << 10)
	waitAccept(t, accepted)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	conn, err := dashnet.Dial(ctx, s.Addr().String(), dashnet.ConnOptions{})
	require.NoError(t, err)
	defer conn.Close()
	waitAccept(t, accepted)

	received := make(chan int, 1)
	go func() {
		n := 0
		for {
			if _, err := conn.Receive(ctx); err != nil {
				received <- n
				return
			}
			n++
		}
	}()

	payload := make([]byte, dashnet.MaxPayloadSize)
	sent := 0
	for i := 0; i < 2000 && s.Clients() == 2; i++ {
		_, err := s.Broadcast(payload)
		require.NoError(t, err)
		sent++
	}
	require.Equal(t, 1, s.Clients(), "stalled client must be dropped after write timeout")

	n, err := s.Broadcast([]byte(`{"state":"pause"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Eventually(t, func() bool { return conn.Stat().Frames.Count.Value() == int64(sent+1) },
		10*time.Second, 10*time.Millisecond)
	_ = conn.Close()
	<-received
}
