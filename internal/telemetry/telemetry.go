// Package telemetry records device readings after each successful refresh.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-resideo/internal/config"
)

const (
	measurement = "resideo_device"
	pingTimeout = 10 * time.Second
)

var ErrUnhealthy = errors.New("influxdb not healthy")

// Sink receives numeric readings keyed by field name.
type Sink interface {
	Record(deviceID, class string, readings map[string]float64)
	Close()
}

// Nop discards readings.
type Nop struct{}

func (Nop) Record(string, string, map[string]float64) {}

func (Nop) Close() {}

// Influx writes readings through the non-blocking write API.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	now      func() time.Time
}

// Open returns Nop when telemetry is disabled.
func Open(cfg config.InfluxDBConfig, log *logrus.Entry) (Sink, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(cfg.BatchSize)).
			SetFlushInterval(uint(cfg.FlushInterval)*1000))

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	ok, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ping influxdb: %w", err)
	}
	if !ok {
		client.Close()
		return nil, ErrUnhealthy
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.WithError(err).Warn("influxdb write failed")
		}
	}()
	return &Influx{client: client, writeAPI: writeAPI, now: time.Now}, nil
}

func (i *Influx) Record(deviceID, class string, readings map[string]float64) {
	if p := point(deviceID, class, readings, i.now()); p != nil {
		i.writeAPI.WritePoint(p)
	}
}

func (i *Influx) Close() {
	i.writeAPI.Flush()
	i.client.Close()
}

func point(deviceID, class string, readings map[string]float64, ts time.Time) *write.Point {
	if len(readings) == 0 {
		return nil
	}
	fields := make(map[string]any, len(readings))
	for k, v := range readings {
		fields[k] = v
	}
	tags := map[string]string{"device_id": deviceID, "device_class": class}
	return write.NewPoint(measurement, tags, fields, ts)
}
