package dashnet

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/ets2dash/helpers"
	"github.com/temoto/ets2dash/helpers/atomic_clock"
	"github.com/temoto/ets2dash/log2"
)

const (
	DefaultHost           = "localhost"
	DefaultPort           = 21212
	DefaultNetworkTimeout = 30 * time.Second
)

var ErrClosing = fmt.Errorf("closing")

type ConnOptions struct {
	Log *log2.Log

	// NetworkTimeout limits dial.
	NetworkTimeout time.Duration
	// ReadTimeout limits waiting for one frame, zero blocks forever.
	ReadTimeout time.Duration
}

// Conn is the client side of plugin connection.
// It is not safe for concurrent Receive, only Close may be called from another goroutine.
type Conn struct {
	err  helpers.AtomicError
	last atomic_clock.Clock
	fr   *FrameReader
	net  net.Conn
	opt  ConnOptions
	stat Stat
}

func NewConn(netConn net.Conn, opt ConnOptions) *Conn {
	c := &Conn{
		net: netConn,
		opt: opt,
	}
	if tcp, ok := c.net.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetReadBuffer(64 << 10)
	}
	c.fr = NewFrameReader(helpers.NewStatReader(c.net, &c.stat.Wire))
	c.last.SetNow()
	return c
}

func Dial(ctx context.Context, addr string, opt ConnOptions) (*Conn, error) {
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	dialer := net.Dialer{Timeout: opt.NetworkTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		if timeout := time.Until(deadline); timeout <= 0 {
			return nil, context.DeadlineExceeded
		} else if timeout < dialer.Timeout {
			dialer.Timeout = timeout
		}
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "dial addr=%s", addr)
	}
	opt.Log.Debugf("connected local=%s remote=%s", addrString(conn.LocalAddr()), addrString(conn.RemoteAddr()))
	return NewConn(conn, opt), nil
}

func (c *Conn) Close() error {
	return c.die(ErrClosing)
}

func (c *Conn) Closed() bool {
	_, ok := c.err.Load()
	return ok
}

// Receive reads one complete frame and returns its payload.
// Read deadline is the earliest of ctx deadline and ReadTimeout.
// Any error is fatal for the connection.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if err, closed := c.err.Load(); closed {
		return nil, errors.Annotatef(ErrConnectionClosed, "receive after %v", err)
	}
	deadline := c.readDeadline(ctx)
	if err := c.net.SetReadDeadline(deadline); err != nil {
		err = errors.Wrap(err, ErrConnectionClosed)
		_ = c.die(err)
		return nil, errors.Annotate(err, "SetReadDeadline")
	}
	b, err := c.fr.ReadFrame()
	if err != nil {
		err = errors.Annotate(err, "receive")
		_ = c.die(err)
		return nil, err
	}
	c.last.SetNow()
	c.stat.RegisterFrame(len(b))
	c.opt.Log.Debugf("receive header=%s", c.fr.Header())
	return b, nil
}

func (c *Conn) Header() Header               { return c.fr.Header() }
func (c *Conn) RemoteAddr() net.Addr         { return c.net.RemoteAddr() }
func (c *Conn) SinceLastRecv() time.Duration { return atomic_clock.Since(&c.last) }
func (c *Conn) Stat() *Stat                  { return &c.stat }

func (c *Conn) String() string {
	return fmt.Sprintf("(remote=%s)", addrString(c.RemoteAddr()))
}

func (c *Conn) readDeadline(ctx context.Context) time.Time {
	deadline, _ := ctx.Deadline()
	if c.opt.ReadTimeout > 0 {
		if t := time.Now().Add(c.opt.ReadTimeout); deadline.IsZero() || t.Before(deadline) {
			deadline = t
		}
	}
	return deadline
}

func (c *Conn) die(e error) error {
	if err, found := c.err.StoreOnce(e); found {
		return err
	}
	_ = c.net.Close()

	// reformat some well known errors for easier log reading
	estr := e.Error()
	if errors.Cause(e) == ErrTimeout || strings.HasSuffix(estr, "i/o timeout") {
		estr = "timeout"
	} else if strings.Contains(estr, "connection reset by peer") {
		estr = "closed by remote"
	}
	c.opt.Log.Debugf("die +close local=%s remote=%s e=%s", addrString(c.net.LocalAddr()), addrString(c.RemoteAddr()), estr)
	return e
}
