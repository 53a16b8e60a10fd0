// Package siem pushes detection records to the downstream SIEM/log layer.
// Delivery is at-least-once: batches are retried whole and the receiver
// must tolerate duplicates.
package siem

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"threatpipe/internal/detect"
	"threatpipe/internal/quality"
	"threatpipe/internal/retry"
)

// Record is the wire shape the SIEM layer accepts.
type Record struct {
	Timestamp       time.Time `json:"timestamp"`
	IndicatorType   string    `json:"indicatorType"`
	IndicatorValue  string    `json:"indicatorValue"`
	Confidence      float64   `json:"confidence"`
	Source          string    `json:"source"`
	DetectionMethod string    `json:"detectionMethod"`
	Severity        float64   `json:"severity"`
}

// FromDetection flattens a detection into the SIEM record shape. The source
// field carries the first contributing feed.
func FromDetection(det detect.Detection) Record {
	source := ""
	if len(det.Indicator.Sources) > 0 {
		source = det.Indicator.Sources[0]
	}
	return Record{
		Timestamp:       det.Timestamp,
		IndicatorType:   string(det.Indicator.Type),
		IndicatorValue:  det.Indicator.Value,
		Confidence:      det.Indicator.Confidence,
		Source:          source,
		DetectionMethod: det.Method,
		Severity:        det.Severity,
	}
}

// Forwarder writes record batches to a Kafka topic.
type Forwarder struct {
	writer  *kafka.Writer
	policy  retry.Policy
	alerter *quality.Alerter
}

func NewForwarder(brokers []string, topic string, policy retry.Policy, alerter *quality.Alerter) *Forwarder {
	return &Forwarder{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
		policy:  policy,
		alerter: alerter,
	}
}

// Push delivers a batch of records. The whole batch retries on failure, so
// a partial first attempt can resend records already delivered; that is the
// at-least-once contract.
func (f *Forwarder) Push(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(recs))
	for _, rec := range recs {
		value, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(rec.IndicatorType + "|" + rec.IndicatorValue),
			Value: value,
		})
	}

	err := f.policy.Do(ctx, func() error {
		return f.writer.WriteMessages(ctx, msgs...)
	})
	if err != nil {
		if f.alerter != nil {
			f.alerter.Raise(quality.AlertSIEMDeliveryFailed, map[string]string{
				"records": fmt.Sprintf("%d", len(recs)),
			})
		}
		return fmt.Errorf("siem push: %w", err)
	}
	quality.SIEMRecordsPushed.Add(float64(len(recs)))
	slog.Debug("siem batch delivered", "records", len(recs))
	return nil
}

// PushDetections converts and delivers detections in one batch.
func (f *Forwarder) PushDetections(ctx context.Context, dets []detect.Detection) error {
	recs := make([]Record, 0, len(dets))
	for _, det := range dets {
		recs = append(recs, FromDetection(det))
	}
	return f.Push(ctx, recs)
}

// Close flushes and closes the underlying writer.
func (f *Forwarder) Close() error { return f.writer.Close() }
