// Package telemetry consumes the live event stream feeding real-time
// detection.
package telemetry

import (
	"context"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"threatpipe/internal/detect"
	"threatpipe/internal/quality"
)

// Handler receives the detections for one telemetry event.
type Handler func(ctx context.Context, dets []detect.Detection)

// messageReader is the slice of the Kafka reader the consume loop needs.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads telemetry events off Kafka and runs each through the
// real-time detection engine.
type Consumer struct {
	reader   messageReader
	detector *detect.Engine
	handler  Handler
	alerter  *quality.Alerter
}

func NewConsumer(brokers []string, topic, group string, detector *detect.Engine, handler Handler, alerter *quality.Alerter) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  group,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		detector: detector,
		handler:  handler,
		alerter:  alerter,
	}
}

// Run consumes until ctx is cancelled. Read errors are alerted and the
// consumer keeps going; the broker client handles reconnection.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if c.alerter != nil {
				c.alerter.Raise(quality.AlertTelemetryConsumeErr, map[string]string{"error": err.Error()})
			}
			slog.Error("telemetry read failed", "err", err)
			continue
		}
		dets := c.detector.ScanEvent(ctx, string(msg.Value))
		if len(dets) > 0 && c.handler != nil {
			c.handler(ctx, dets)
		}
	}
}
