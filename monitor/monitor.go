// Package monitor is the diagnostic read loop: one frame at a time,
// print truck speed while the game is in drive state.
package monitor

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/ets2dash/dash"
	dashnet "github.com/temoto/ets2dash/dash/net"
	"github.com/temoto/ets2dash/log2"
)

type Receiver interface {
	Receive(context.Context) ([]byte, error)
}

// Sink gets every drive sample after it is printed.
type Sink interface {
	Publish(context.Context, Sample) error
}

type Sample struct {
	State dash.State
	Speed float64
	Time  time.Time
}

type Options struct {
	Log   *log2.Log
	Out   io.Writer
	Sinks []Sink
	// Stat receives per state counters, usually Conn.Stat().
	Stat *dashnet.Stat
}

type Monitor struct {
	r     Receiver
	log   *log2.Log
	out   io.Writer
	sinks []Sink
	stat  *dashnet.Stat
}

func New(r Receiver, opt Options) *Monitor {
	m := &Monitor{
		r:     r,
		log:   opt.Log,
		out:   opt.Out,
		sinks: opt.Sinks,
		stat:  opt.Stat,
	}
	if m.out == nil {
		m.out = io.Discard
	}
	if m.stat == nil {
		m.stat = new(dashnet.Stat)
	}
	return m
}

// Run loops until the first error. There is no success exit,
// the peer streams telemetry for as long as the game runs.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		if err := m.Step(ctx); err != nil {
			m.log.Debugf("stat=%s", m.stat.String())
			return err
		}
	}
}

// Step receives and handles exactly one frame.
func (m *Monitor) Step(ctx context.Context) error {
	b, err := m.r.Receive(ctx)
	if err != nil {
		return err
	}
	return m.Handle(ctx, b)
}

// Handle interprets one payload.
// Only drive state is interpreted, any other state is a valid no-op.
func (m *Monitor) Handle(ctx context.Context, payload []byte) error {
	doc, err := dash.ParseDocument(payload)
	if err != nil {
		return errors.Annotatef(err, "payload=%q", truncate(payload, 64))
	}
	m.stat.RegisterState(doc.State)
	if doc.State != dash.StateDrive {
		if !doc.State.Known() {
			m.log.Debugf("ignore unknown state=%q", doc.State)
		}
		return nil
	}

	speed, err := doc.Speed()
	if err != nil {
		return err
	}
	if _, err = io.WriteString(m.out, FormatSpeed(speed)+"\n"); err != nil {
		return errors.Annotate(err, "output")
	}

	sample := Sample{State: doc.State, Speed: speed, Time: time.Now()}
	for _, sink := range m.sinks {
		if err := sink.Publish(ctx, sample); err != nil {
			m.log.Errorf("sink publish speed=%v err=%v", speed, err)
		}
	}
	return nil
}

// FormatSpeed prints speed as integer truncated toward zero.
// Any magnitude is printed exactly, float to int64 conversion is not used.
func FormatSpeed(speed float64) string {
	if math.IsNaN(speed) || math.IsInf(speed, 0) {
		return fmt.Sprintf("Speed: %v", speed)
	}
	t := math.Trunc(speed)
	if t == 0 {
		t = 0 // drop negative zero
	}
	return "Speed: " + strconv.FormatFloat(t, 'f', 0, 64)
}

func truncate(b []byte, max int) []byte {
	if len(b) <= max {
		return b
	}
	return b[:max]
}
