package dashnet

// Values are read and modified atomically, but not consistently,
// i.e. it is possible to read .Count=1 .Size=0 because Size has not updated yet.

import (
	"expvar"
	"fmt"

	"github.com/temoto/ets2dash/dash"
)

type Stat struct {
	Wire   expvar.Int // raw stream bytes, headers included
	Frames CountSizePair
	States expvar.Map // frame count by document state
}

type CountSizePair struct {
	Count expvar.Int
	Size  expvar.Int
}

func (p *CountSizePair) Register(size int) {
	p.Count.Add(1)
	p.Size.Add(int64(size))
}

func (p *CountSizePair) String() string {
	return fmt.Sprintf(`{"count":%d,"size":%d}`, p.Count.Value(), p.Size.Value())
}

func (s *Stat) RegisterFrame(payloadSize int) { s.Frames.Register(payloadSize) }

func (s *Stat) RegisterState(state dash.State) {
	key := string(state)
	if key == "" {
		key = "(empty)"
	}
	s.States.Add(key, 1)
}

func (s *Stat) StateCount(state dash.State) int64 {
	if v, ok := s.States.Get(string(state)).(*expvar.Int); ok {
		return v.Value()
	}
	return 0
}

func (s *Stat) String() string {
	states := s.States.String()
	return fmt.Sprintf(`{"wire":%d,"frames":%s,"states":%s}`,
		s.Wire.Value(), s.Frames.String(), states)
}
