// Package report publishes motor profiles from the host tool.
package report

import (
	"encoding/json"
	"io"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"motorprofiler/profiler"
	"motorprofiler/profiler/config"
)

const (
	defaultTopic    = "motorprofiler/profile"
	defaultClientID = "motorprofiler-host"
	publishTimeout  = 5 * time.Second
	disconnectMs    = 250
)

var ErrNoBroker = errors.New("report: no mqtt broker configured")

// Sink receives every profile the host reads.
type Sink interface {
	Publish(r profiler.Result) error
	Close() error
}

// MQTT publishes profiles as retained JSON messages.
type MQTT struct {
	client mqtt.Client
	topic  string
	log    golog.Logger
}

// NewMQTT connects to the broker of the host configuration.
func NewMQTT(h config.HostConfig, logger golog.Logger) (*MQTT, error) {
	if h.MQTTBroker == "" {
		return nil, ErrNoBroker
	}
	p := &MQTT{topic: h.MQTTTopic, log: logger}
	if p.topic == "" {
		p.topic = defaultTopic
	}
	clientID := h.MQTTClientID
	if clientID == "" {
		clientID = defaultClientID
	}

	opts := mqtt.NewClientOptions().
		AddBroker(h.MQTTBroker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Infow("connected to mqtt broker", "broker", h.MQTTBroker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Errorw("mqtt connection lost", "error", err)
	}

	p.client = mqtt.NewClient(opts)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrapf(token.Error(), "connecting to %s", h.MQTTBroker)
	}
	return p, nil
}

// Publish sends r to the topic. The message is retained so late
// subscribers see the last profile.
func (p *MQTT) Publish(r profiler.Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.topic, 1, true, data)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Errorf("publish to %s timed out", p.topic)
	}
	return errors.Wrapf(token.Error(), "publish to %s", p.topic)
}

// Close disconnects from the broker.
func (p *MQTT) Close() error {
	p.client.Disconnect(disconnectMs)
	return nil
}

// Writer prints profiles as JSON lines.
type Writer struct {
	w   io.Writer
	enc *json.Encoder
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, enc: json.NewEncoder(w)}
}

func (p *Writer) Publish(r profiler.Result) error {
	return p.enc.Encode(r)
}

// Close closes the underlying writer if it is a Closer.
func (p *Writer) Close() error {
	if c, ok := p.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Multi fans a profile out to several sinks. A failing sink does not keep
// the others from receiving it.
type Multi []Sink

func (m Multi) Publish(r profiler.Result) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Publish(r))
	}
	return err
}

func (m Multi) Close() error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Close())
	}
	return err
}
