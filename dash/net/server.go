package dashnet

import (
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/ets2dash/helpers"
	"github.com/temoto/ets2dash/log2"
)

// Server is the plugin side: every accepted client receives every broadcast frame.
// Used by emulator and in testing the monitor.
type Server struct {
	alive   *alive.Alive
	clients struct {
		sync.Mutex
		list []net.Conn
	}
	ll   net.Listener
	opt  ServerOptions
	stat Stat
}

type ServerOptions struct {
	Log *log2.Log
	// WriteTimeout limits one frame write to one client, zero means
	// DefaultWriteTimeout. Broadcast holds the client list lock while writing,
	// so a stalled client delays accept and every other client by up to this.
	// Negative disables the deadline.
	WriteTimeout time.Duration
	OnAccept     func(net.Addr)
}

const DefaultWriteTimeout = 5 * time.Second

func NewServer(opt ServerOptions) *Server {
	if opt.WriteTimeout == 0 {
		opt.WriteTimeout = DefaultWriteTimeout
	}
	return &Server{
		alive: alive.NewAlive(),
		opt:   opt,
	}
}

func (s *Server) Listen(addr string) error {
	if s.ll != nil {
		return errors.AlreadyExistsf("listener addr=%s", addrString(s.ll.Addr()))
	}
	if !s.alive.Add(1) {
		return errors.Annotate(ErrClosing, "Listen after Close")
	}
	ll, err := net.Listen("tcp", addr)
	if err != nil {
		s.alive.Done()
		return errors.Annotatef(err, "listen addr=%s", addr)
	}
	s.ll = ll
	s.opt.Log.Infof("listening on %s", addrString(ll.Addr()))
	go s.acceptLoop()
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.ll == nil {
		return nil
	}
	return s.ll.Addr()
}

func (s *Server) Clients() int {
	s.clients.Lock()
	defer s.clients.Unlock()
	return len(s.clients.list)
}

func (s *Server) Stat() *Stat { return &s.stat }

// Broadcast sends payload as one frame to every client.
// Clients failing to receive are closed and forgotten.
// Returns number of clients that got the frame.
func (s *Server) Broadcast(payload []byte) (int, error) {
	b, err := FrameMarshal(payload)
	if err != nil {
		return 0, err
	}
	sent := s.BroadcastRaw(b)
	if sent > 0 {
		s.stat.RegisterFrame(len(payload))
	}
	return sent, nil
}

// BroadcastRaw writes b to every client as is, without framing.
func (s *Server) BroadcastRaw(b []byte) int {
	sent := 0
	s.clients.Lock()
	defer s.clients.Unlock()
	keep := s.clients.list[:0]
	for _, conn := range s.clients.list {
		if err := s.write(conn, b); err != nil {
			s.opt.Log.Infof("drop client remote=%s err=%v", addrString(conn.RemoteAddr()), err)
			_ = conn.Close()
			continue
		}
		keep = append(keep, conn)
		sent++
	}
	for i := len(keep); i < len(s.clients.list); i++ {
		s.clients.list[i] = nil
	}
	s.clients.list = keep
	return sent
}

func (s *Server) Close() error {
	s.alive.Stop()
	var err error
	if s.ll != nil {
		err = s.ll.Close()
	}
	helpers.WithLock(&s.clients, func() {
		for _, conn := range s.clients.list {
			_ = conn.Close()
		}
		s.clients.list = nil
	})
	s.alive.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.alive.Done()
	for {
		conn, err := s.ll.Accept()
		if !s.alive.IsRunning() {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			s.opt.Log.Error(errors.Annotatef(err, "accept listen=%s", addrString(s.ll.Addr())))
			s.alive.Stop()
			return
		}
		accepted := false
		helpers.WithLock(&s.clients, func() {
			// Close may have run between Accept and here
			if accepted = s.alive.IsRunning(); accepted {
				s.clients.list = append(s.clients.list, conn)
			}
		})
		if !accepted {
			_ = conn.Close()
			return
		}
		s.opt.Log.Infof("connection from %s", addrString(conn.RemoteAddr()))
		if s.opt.OnAccept != nil {
			s.opt.OnAccept(conn.RemoteAddr())
		}
	}
}

func (s *Server) write(conn net.Conn, b []byte) error {
	var deadline time.Time
	if s.opt.WriteTimeout > 0 {
		deadline = time.Now().Add(s.opt.WriteTimeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return helpers.WriteAll(helpers.NewStatWriter(conn, &s.stat.Wire), b)
}
