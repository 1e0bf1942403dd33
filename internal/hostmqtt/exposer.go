// Package hostmqtt mirrors the accessory bridge onto MQTT topics.
//
// Layout, relative to the configured prefix:
//
//	<uuid>/accessory                      retained accessory snapshot
//	<uuid>/<service>/<characteristic>     retained {"value":...,"error":...}
//	<uuid>/<service>/<characteristic>/set host writes, JSON value
package hostmqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-resideo/internal/accessory"
)

const setTimeout = 10 * time.Second

// Exposer publishes bridge state and routes set messages back into it.
type Exposer struct {
	conn   Conn
	bridge *accessory.Bridge
	prefix string
	qos    byte
	log    *logrus.Entry
	ctx    context.Context
}

func NewExposer(conn Conn, bridge *accessory.Bridge, prefix string, qos byte, log *logrus.Entry) *Exposer {
	return &Exposer{
		conn:   conn,
		bridge: bridge,
		prefix: strings.TrimRight(prefix, "/"),
		qos:    qos,
		log:    log.WithField("component", "hostmqtt"),
		ctx:    context.Background(),
	}
}

// Start subscribes to set topics and follows the bridge.
func (e *Exposer) Start(ctx context.Context) error {
	e.ctx = ctx
	if err := e.conn.Subscribe(e.prefix+"/+/+/+/set", e.qos, e.handleSet); err != nil {
		return err
	}
	e.bridge.Subscribe(e)
	return nil
}

func (e *Exposer) AccessoryAdded(acc *accessory.Accessory) {
	e.publishJSON(e.prefix+"/"+acc.UUID+"/accessory", acc.Snapshot())
	for _, svc := range acc.Services() {
		for _, c := range svc.Characteristics() {
			e.CharacteristicChanged(acc, svc, c)
		}
	}
}

func (e *Exposer) AccessoryRemoved(acc *accessory.Accessory) {
	if err := e.conn.Publish(e.prefix+"/"+acc.UUID+"/accessory", e.qos, true, nil); err != nil {
		e.log.WithError(err).Warn("clear accessory topic")
	}
}

func (e *Exposer) CharacteristicChanged(acc *accessory.Accessory, svc *accessory.Service, c *accessory.Characteristic) {
	snap := c.Snapshot()
	payload := struct {
		Value any    `json:"value"`
		Error string `json:"error,omitempty"`
	}{Value: snap.Value, Error: snap.Error}
	e.publishJSON(e.topic(acc, svc, c), payload)
}

func (e *Exposer) topic(acc *accessory.Accessory, svc *accessory.Service, c *accessory.Characteristic) string {
	return strings.Join([]string{e.prefix, acc.UUID, svc.Type, c.Type}, "/")
}

func (e *Exposer) publishJSON(topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		e.log.WithError(err).WithField("topic", topic).Warn("encode payload")
		return
	}
	if err := e.conn.Publish(topic, e.qos, true, data); err != nil {
		e.log.WithError(err).WithField("topic", topic).Debug("publish failed")
	}
}

func (e *Exposer) handleSet(topic string, payload []byte) {
	log := e.log.WithField("topic", topic)
	rest, ok := strings.CutPrefix(topic, e.prefix+"/")
	if !ok {
		return
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[3] != "set" {
		log.Debug("ignoring malformed set topic")
		return
	}

	acc, ok := e.bridge.Accessory(parts[0])
	if !ok {
		log.Warn("set for unknown accessory")
		return
	}
	c := acc.Characteristic(parts[1], parts[2])
	if c == nil {
		log.Warn("set for unknown characteristic")
		return
	}

	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		log.WithError(err).Warn("set payload is not JSON")
		return
	}

	ctx, cancel := context.WithTimeout(e.ctx, setTimeout)
	defer cancel()
	if err := c.RemoteSet(ctx, value); err != nil {
		log.WithError(err).Warn("set rejected")
	}
}
