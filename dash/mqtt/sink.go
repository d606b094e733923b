// Package dashmqtt forwards drive speed samples to an MQTT broker.
package dashmqtt

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/ets2dash/log2"
	"github.com/temoto/ets2dash/monitor"
)

const DefaultNetworkTimeout = 5 * time.Second

// Publisher is the subset of mqtt.Client used by Sink.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Options struct {
	Log            *log2.Log
	BrokerURL      string
	ClientID       string
	Topic          string
	Qos            byte
	Retained       bool
	NetworkTimeout time.Duration
}

type Sink struct {
	client Publisher
	opt    Options
}

type message struct {
	State string  `json:"state"`
	Speed float64 `json:"speed"`
	Time  int64   `json:"time,omitempty"`
}

// NewSink wraps already connected client.
func NewSink(client Publisher, opt Options) *Sink {
	if opt.NetworkTimeout <= 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	return &Sink{client: client, opt: opt}
}

// Dial connects to opt.BrokerURL and returns sink with close function.
func Dial(opt Options) (*Sink, func(), error) {
	if opt.NetworkTimeout <= 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	mqtt.ERROR = opt.Log
	mqtt.CRITICAL = opt.Log
	mqtt.WARN = opt.Log

	mopt := mqtt.NewClientOptions().
		AddBroker(opt.BrokerURL).
		SetClientID(opt.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(opt.NetworkTimeout).
		SetWriteTimeout(opt.NetworkTimeout).
		SetOnConnectHandler(func(mqtt.Client) { opt.Log.Infof("mqtt connected broker=%s", opt.BrokerURL) }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) { opt.Log.Errorf("mqtt connection lost err=%v", err) })
	client := mqtt.NewClient(mopt)
	token := client.Connect()
	if !token.WaitTimeout(opt.NetworkTimeout) {
		return nil, nil, errors.Timeoutf("mqtt connect broker=%s", opt.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, nil, errors.Annotatef(err, "mqtt connect broker=%s", opt.BrokerURL)
	}
	closer := func() { client.Disconnect(uint(opt.NetworkTimeout / time.Millisecond)) }
	return NewSink(client, opt), closer, nil
}

func (s *Sink) Publish(ctx context.Context, sample monitor.Sample) error {
	msg := message{State: string(sample.State), Speed: sample.Speed}
	if !sample.Time.IsZero() {
		msg.Time = sample.Time.UnixNano() / int64(time.Millisecond)
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Annotate(err, "mqtt marshal")
	}

	timeout := s.opt.NetworkTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	token := s.client.Publish(s.opt.Topic, s.opt.Qos, s.opt.Retained, b)
	if !token.WaitTimeout(timeout) {
		return errors.Timeoutf("mqtt publish topic=%s timeout=%v", s.opt.Topic, timeout)
	}
	if err := token.Error(); err != nil {
		return errors.Annotatef(err, "mqtt publish topic=%s", s.opt.Topic)
	}
	s.opt.Log.Debugf("mqtt publish topic=%s payload=%s", s.opt.Topic, b)
	return nil
}
