package monitor_test

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/ets2dash/dash"
	dashnet "github.com/temoto/ets2dash/dash/net"
	"github.com/temoto/ets2dash/helpers"
	"github.com/temoto/ets2dash/log2"
	"github.com/temoto/ets2dash/monitor"
)

type listReceiver struct {
	payloads [][]byte
}

func (r *listReceiver) Receive(context.Context) ([]byte, error) {
	if len(r.payloads) == 0 {
		return nil, errors.Annotate(dashnet.ErrConnectionClosed, "test end")
	}
	b := r.payloads[0]
	r.payloads = r.payloads[1:]
	return b, nil
}

type recordSink struct {
	samples []monitor.Sample
	err     error
}

func (s *recordSink) Publish(_ context.Context, sample monitor.Sample) error {
	s.samples = append(s.samples, sample)
	return s.err
}

func TestHandle(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		input  string
		expect string
		cause  error
	}{
		{"idle", `{"state":"idle","x":1}`, "", nil},
		{"startup", `{"state":"startup","telemetry":{},"config":{}}`, "", nil},
		{"pause-no-telemetry", `{"state":"pause"}`, "", nil},
		{"idle-telemetry-array", `{"state":"idle","telemetry":[1,2]}`, "", nil},
		{"pause-telemetry-string", `{"state":"pause","telemetry":"n/a"}`, "", nil},
		{"startup-config-number", `{"state":"startup","config":5}`, "", nil},
		{"drive-config-number", `{"state":"drive","telemetry":{"truck":{"speed":4}},"config":5}`, "Speed: 4\n", nil},
		{"drive-telemetry-array", `{"state":"drive","telemetry":[1,2]}`, "", dash.ErrMalformedPayload},
		{"drive", `{"state":"drive","telemetry":{"truck":{"speed":87}}}`, "Speed: 87\n", nil},
		{"drive-fraction", `{"state":"drive","telemetry":{"truck":{"speed":87.9}}}`, "Speed: 87\n", nil},
		{"drive-reverse", `{"state":"drive","telemetry":{"truck":{"speed":-3.5}}}`, "Speed: -3\n", nil},
		{"drive-zero", `{"state":"drive","telemetry":{"truck":{"speed":0}}}`, "Speed: 0\n", nil},
		{"drive-missing-telemetry", `{"state":"drive"}`, "", dash.ErrMalformedPayload},
		{"drive-missing-speed", `{"state":"drive","telemetry":{"truck":{}}}`, "", dash.ErrMalformedPayload},
		{"not-json", `state=drive`, "", dash.ErrMalformedPayload},
		{"no-state", `{"telemetry":{"truck":{"speed":1}}}`, "", dash.ErrMalformedPayload},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			out := bytes.NewBuffer(nil)
			m := monitor.New(nil, monitor.Options{Log: log2.NewTest(t, log2.LDebug), Out: out})
			err := m.Handle(context.Background(), []byte(c.input))
			assert.Equal(t, c.expect, out.String())
			if c.cause == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, c.cause, errors.Cause(err))
		})
	}
}

func TestRunStopsOnFirstError(t *testing.T) {
	t.Parallel()
	r := &listReceiver{payloads: [][]byte{
		[]byte(`{"state":"startup"}`),
		[]byte(`{"state":"drive","telemetry":{"truck":{"speed":10}}}`),
		[]byte(`{"state":"drive","telemetry":{"truck":{"speed":20.2}}}`),
		[]byte(`{"state":"pause"}`),
	}}
	out := bytes.NewBuffer(nil)
	sink := &recordSink{err: fmt.Errorf("broker down")}
	var stat dashnet.Stat
	m := monitor.New(r, monitor.Options{
		Log:   log2.NewTest(t, log2.LDebug),
		Out:   out,
		Sinks: []monitor.Sink{sink},
		Stat:  &stat,
	})
	err := m.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, dashnet.ErrConnectionClosed, errors.Cause(err))
	assert.Equal(t, "Speed: 10\nSpeed: 20\n", out.String())
	// sink failure is logged, loop goes on
	require.Len(t, sink.samples, 2)
	assert.Equal(t, 20.2, sink.samples[1].Speed)
	assert.Equal(t, dash.StateDrive, sink.samples[0].State)
	assert.Equal(t, int64(2), stat.StateCount(dash.StateDrive))
	assert.Equal(t, int64(1), stat.StateCount(dash.StatePause))
	assert.Equal(t, int64(1), stat.StateCount(dash.StateStartup))
}

func TestFormatSpeed(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Speed: 87", monitor.FormatSpeed(87))
	assert.Equal(t, "Speed: 0", monitor.FormatSpeed(0.99))
	assert.Equal(t, "Speed: 0", monitor.FormatSpeed(-0.5))
	assert.Equal(t, "Speed: 120", monitor.FormatSpeed(120.000001))
	// beyond int64 range
	assert.Equal(t, "Speed: 1000000000000000019884624838656", monitor.FormatSpeed(1e30))
	assert.Equal(t, "Speed: -10000000000000000000", monitor.FormatSpeed(-1e19))
	assert.Equal(t, "Speed: 9223372036854775808", monitor.FormatSpeed(math.Exp2(63)))
	assert.Equal(t, "Speed: NaN", monitor.FormatSpeed(math.NaN()))
	assert.Equal(t, "Speed: +Inf", monitor.FormatSpeed(math.Inf(1)))
}

// End to end over loopback TCP: server plays the plugin.
func TestMonitorEndToEnd(t *testing.T) {
	t.Parallel()
	type step struct {
		raw []byte // written as is when set
		doc string
	}
	cases := []struct {
		name   string
		steps  []step
		expect string
		cause  error
	}{
		{"idle-then-drive", []step{
			{raw: append(helpers.MustHex("01 00 00 1b"), `{"state":"idle","x":123456}`...)},
			{doc: `{"state":"pause","telemetry":"n/a","config":5}`},
			{doc: `{"state":"drive","telemetry":{"truck":{"speed":87}}}`},
		}, "Speed: 87\n", dashnet.ErrConnectionClosed},
		{"drive-missing-telemetry", []step{
			{doc: `{"state":"drive"}`},
			{doc: `{"state":"drive","telemetry":{"truck":{"speed":1}}}`},
		}, "", dash.ErrMalformedPayload},
		{"version-mismatch", []step{
			{doc: `{"state":"drive","telemetry":{"truck":{"speed":5}}}`},
			{raw: append(helpers.MustHex("02000002"), "{}"...)},
		}, "Speed: 5\n", dashnet.ErrProtocolVersion},
		{"closed-mid-payload", []step{
			{raw: append(helpers.MustHex("01000040"), `{"state":"dri`...)},
		}, "", dashnet.ErrConnectionClosed},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			accepted := make(chan net.Addr, 1)
			server := dashnet.NewServer(dashnet.ServerOptions{
				Log:      log.Clone(log2.LDebug),
				OnAccept: func(a net.Addr) { accepted <- a },
			})
			require.NoError(t, server.Listen("127.0.0.1:0"))
			defer server.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			conn, err := dashnet.Dial(ctx, server.Addr().String(), dashnet.ConnOptions{Log: log})
			require.NoError(t, err)
			defer conn.Close()
			<-accepted

			for _, s := range c.steps {
				if s.raw != nil {
					require.Equal(t, 1, server.BroadcastRaw(s.raw))
				} else {
					sent, err := server.Broadcast([]byte(s.doc))
					require.NoError(t, err)
					require.Equal(t, 1, sent)
				}
			}
			require.NoError(t, server.Close())

			out := bytes.NewBuffer(nil)
			m := monitor.New(conn, monitor.Options{Log: log, Out: out, Stat: conn.Stat()})
			err = m.Run(ctx)
			require.Error(t, err)
			assert.Equal(t, c.cause, errors.Cause(err), errors.ErrorStack(err))
			assert.Equal(t, c.expect, out.String())
		})
	}
}
