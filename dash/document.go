// Package dash describes the telemetry document sent by the dashboard plugin.
package dash

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/juju/errors"
)

// ErrMalformedPayload means frame payload is not a telemetry document
// this client can interpret. Frame boundaries come from the header,
// so there is nothing to resynchronise and the error is fatal.
var ErrMalformedPayload = fmt.Errorf("malformed payload")

// SpeedPath is the telemetry channel shown by the monitor.
const SpeedPath = "truck.speed"

type State string

const (
	StateStartup State = "startup"
	StateDrive   State = "drive"
	StatePause   State = "pause"
)

// Known reports whether the plugin is documented to send s.
// Unknown states are still valid documents.
func (s State) Known() bool {
	switch s {
	case StateStartup, StateDrive, StatePause:
		return true
	}
	return false
}

type Document struct {
	State     State `json:"state"`
	Telemetry Tree  `json:"telemetry"`
	Config    Tree  `json:"config"`

	// set when received telemetry is present but not an object
	telemetryErr error
}

func NewDocument() *Document {
	return &Document{
		State:     StateStartup,
		Telemetry: Tree{},
		Config:    Tree{},
	}
}

// ParseDocument decodes one frame payload.
// Only "state" is required here. Telemetry and config content is not checked,
// drive specific paths are checked by Speed.
func ParseDocument(b []byte) (*Document, error) {
	if !utf8.Valid(b) {
		return nil, errors.Annotate(ErrMalformedPayload, "invalid utf-8")
	}
	var raw struct {
		State     *string         `json:"state"`
		Telemetry json.RawMessage `json:"telemetry"`
		Config    json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, errors.Annotatef(ErrMalformedPayload, "json: %v", err)
	}
	if raw.State == nil {
		return nil, errors.Annotate(ErrMalformedPayload, "missing state")
	}
	d := &Document{State: State(*raw.State)}
	d.Telemetry, d.telemetryErr = decodeTree(raw.Telemetry)
	// config is opaque, non-object is dropped
	d.Config, _ = decodeTree(raw.Config)
	return d, nil
}

// decodeTree returns nil Tree for absent or null value.
func decodeTree(b json.RawMessage) (Tree, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var t Tree
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, errors.Errorf("%.32s is not an object", b)
	}
	return t, nil
}

func (d *Document) Marshal() ([]byte, error) {
	out := struct {
		State     State `json:"state"`
		Telemetry Tree  `json:"telemetry"`
		Config    Tree  `json:"config"`
	}{d.State, d.Telemetry, d.Config}
	if out.Telemetry == nil {
		out.Telemetry = Tree{}
	}
	if out.Config == nil {
		out.Config = Tree{}
	}
	b, err := json.Marshal(out)
	return b, errors.Annotate(err, "document marshal")
}

// Speed returns telemetry.truck.speed, which must exist in drive state.
func (d *Document) Speed() (float64, error) {
	if d.telemetryErr != nil {
		return 0, errors.Annotatef(ErrMalformedPayload, "state=%s telemetry=%v", d.State, d.telemetryErr)
	}
	if d.Telemetry == nil {
		return 0, errors.Annotatef(ErrMalformedPayload, "state=%s missing telemetry", d.State)
	}
	v, err := d.Telemetry.Float(SpeedPath)
	return v, errors.Annotatef(err, "state=%s telemetry", d.State)
}
