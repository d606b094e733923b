// Package emulator plays the game plugin side of the telemetry stream:
// holds one document, edits it by text commands and broadcasts it
// to every connected monitor at fixed interval.
package emulator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/ets2dash/dash"
	dashnet "github.com/temoto/ets2dash/dash/net"
	"github.com/temoto/ets2dash/log2"
)

const DefaultInterval = 500 * time.Millisecond

const Usage = `syntax: commands separated by whitespace
(state)
- drive         set state=drive
- pause         set state=pause
- startup       set state=startup
- state NAME    set any state, monitor ignores unknown

(document)
- set P=V       telemetry channel P (dotted path), V is JSON or string
- config P=V    config attribute P
- send          broadcast document now

(wire)
- raw HEX       broadcast HEX as frame payload
- wire HEX      broadcast HEX bytes as is, no frame header

(meta)
- sN            pause N milliseconds
- stat          show server stat
- log=yes       enable debug logging
- log=no        disable debug logging
- help
`

// Command names for interactive completion.
var Commands = []Command{
	{"drive", "state=drive"},
	{"pause", "state=pause"},
	{"startup", "state=startup"},
	{"state", "state NAME"},
	{"set", "set telemetry P=V"},
	{"config", "set config P=V"},
	{"send", "broadcast now"},
	{"raw", "broadcast HEX payload"},
	{"wire", "broadcast HEX bytes"},
	{"sN", "pause for N ms"},
	{"stat", "server stat"},
	{"help", "show usage"},
}

type Command struct {
	Name        string
	Description string
}

type Options struct {
	Log      *log2.Log
	Interval time.Duration
}

type Emulator struct {
	sync.Mutex
	doc      *dash.Document
	log      *log2.Log
	interval time.Duration
	server   *dashnet.Server
}

func New(server *dashnet.Server, opt Options) *Emulator {
	if opt.Interval <= 0 {
		opt.Interval = DefaultInterval
	}
	return &Emulator{
		doc:      dash.NewDocument(),
		log:      opt.Log,
		interval: opt.Interval,
		server:   server,
	}
}

func (e *Emulator) State() dash.State {
	e.Lock()
	defer e.Unlock()
	return e.doc.State
}

// Snapshot returns current document as it would be sent.
func (e *Emulator) Snapshot() ([]byte, error) {
	e.Lock()
	defer e.Unlock()
	return e.doc.Marshal()
}

// Send broadcasts current document, returns number of clients reached.
func (e *Emulator) Send() (int, error) {
	b, err := e.Snapshot()
	if err != nil {
		return 0, errors.Annotate(err, "marshal")
	}
	n, err := e.server.Broadcast(b)
	if err != nil {
		return n, errors.Annotate(err, "broadcast")
	}
	e.log.Debugf("send clients=%d payload=%s", n, b)
	return n, nil
}

// Run broadcasts document every interval until ctx is done.
func (e *Emulator) Run(ctx context.Context) error {
	tmr := time.NewTicker(e.interval)
	defer tmr.Stop()
	for {
		select {
		case <-tmr.C:
			if _, err := e.Send(); err != nil {
				e.log.Error(err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Exec runs every command on the line in order, stops at first error.
func (e *Emulator) Exec(ctx context.Context, line string) error {
	words := strings.Fields(line)
	for i := 0; i < len(words); i++ {
		word := words[i]
		arg := func() (string, error) {
			if i+1 >= len(words) {
				return "", errors.NotValidf("command=%s missing argument", word)
			}
			i++
			return words[i], nil
		}
		var err error
		switch word {
		case "help":
			e.log.Info(Usage)
		case "drive":
			e.setState(dash.StateDrive)
		case "pause":
			e.setState(dash.StatePause)
		case "startup":
			e.setState(dash.StateStartup)
		case "state":
			var s string
			if s, err = arg(); err == nil {
				e.setState(dash.State(s))
			}
		case "set", "config":
			var kv string
			if kv, err = arg(); err == nil {
				err = e.assign(word, kv)
			}
		case "send":
			_, err = e.Send()
		case "raw", "wire":
			var s string
			if s, err = arg(); err == nil {
				err = e.broadcastHex(word, s)
			}
		case "stat":
			e.log.Infof("clients=%d stat=%s", e.server.Clients(), e.server.Stat().String())
		case "log=yes":
			e.log.SetLevel(log2.LDebug)
		case "log=no":
			e.log.SetLevel(log2.LInfo)
		default:
			if word[0] == 's' {
				err = sleep(ctx, word)
				break
			}
			err = errors.NotValidf("command=%s", word)
		}
		if err != nil {
			return errors.Annotatef(err, "line=%q", line)
		}
	}
	return nil
}

func (e *Emulator) setState(s dash.State) {
	e.Lock()
	e.doc.State = s
	e.Unlock()
	e.log.Debugf("state=%s", s)
}

// assign parses P=V, value is JSON with fallback to plain string.
func (e *Emulator) assign(target, kv string) error {
	eq := strings.IndexByte(kv, '=')
	if eq <= 0 {
		return errors.NotValidf("%s %q expected path=value", target, kv)
	}
	path, raw := kv[:eq], kv[eq+1:]
	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}

	e.Lock()
	defer e.Unlock()
	tree := &e.doc.Telemetry
	if target == "config" {
		tree = &e.doc.Config
	}
	if *tree == nil {
		*tree = dash.Tree{}
	}
	return tree.Set(path, value)
}

func (e *Emulator) broadcastHex(kind, s string) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return errors.Annotatef(err, "%s hex", kind)
	}
	var n int
	if kind == "wire" {
		n = e.server.BroadcastRaw(b)
	} else if n, err = e.server.Broadcast(b); err != nil {
		return err
	}
	e.log.Debugf("%s len=%d clients=%d", kind, len(b), n)
	return nil
}

func sleep(ctx context.Context, word string) error {
	ms, err := strconv.ParseUint(word[1:], 10, 32)
	if err != nil {
		return errors.NotValidf("command=%s", word)
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
