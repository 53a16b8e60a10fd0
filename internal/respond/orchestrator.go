package respond

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"threatpipe/internal/detect"
	"threatpipe/internal/indicator"
	"threatpipe/internal/lifecycle"
	"threatpipe/internal/quality"
	"threatpipe/internal/retry"
)

// States of a handled detection.
type State string

const (
	StateNew           State = "new"
	StateEvaluated     State = "evaluated"
	StateAutoMitigated State = "auto_mitigated"
	StateEscalated     State = "escalated"
	StateSuppressed    State = "suppressed"
)

// ErrMitigationFailed marks an action that kept failing after bounded
// retries. It is escalated, never silently absorbed.
var ErrMitigationFailed = errors.New("mitigation failed")

// EscalationSubject is the NATS subject escalations are published on.
const EscalationSubject = "threatpipe.escalations"

// Escalation is a detection handed to the human queue.
type Escalation struct {
	ID        string           `json:"id"`
	Detection detect.Detection `json:"detection"`
	Reason    string           `json:"reason"`
	Timestamp time.Time        `json:"timestamp"`
}

// Queue holds pending escalations for the operator API.
type Queue struct {
	mu      sync.Mutex
	pending []Escalation
	max     int
}

func NewQueue(max int) *Queue {
	if max <= 0 {
		max = 1000
	}
	return &Queue{max: max}
}

func (q *Queue) Push(e Escalation) {
	q.mu.Lock()
	q.pending = append(q.pending, e)
	if len(q.pending) > q.max {
		q.pending = q.pending[len(q.pending)-q.max:]
	}
	q.mu.Unlock()
}

func (q *Queue) List() []Escalation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Escalation(nil), q.pending...)
}

// Config carries the severity bands. Severity at or above AutoThreshold
// triggers automatic mitigation; below SuppressFloor the detection is
// suppressed; the middle band escalates to a human.
type Config struct {
	AutoThreshold float64
	SuppressFloor float64
	ActionTimeout time.Duration
	Retry         retry.Policy
}

func (c Config) withDefaults() Config {
	if c.AutoThreshold <= 0 {
		c.AutoThreshold = 0.8
	}
	if c.SuppressFloor <= 0 {
		c.SuppressFloor = 0.3
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 10 * time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultPolicy
	}
	return c
}

// Orchestrator runs the per-detection state machine:
// new → evaluated → (auto-mitigated | escalated | suppressed).
type Orchestrator struct {
	exec      Executor
	audit     *AuditLog
	queue     *Queue
	whitelist *lifecycle.Whitelist
	alerter   *quality.Alerter
	nc        *nats.Conn
	cfg       Config
}

func NewOrchestrator(exec Executor, audit *AuditLog, queue *Queue, wl *lifecycle.Whitelist, alerter *quality.Alerter, nc *nats.Conn, cfg Config) *Orchestrator {
	return &Orchestrator{
		exec:      exec,
		audit:     audit,
		queue:     queue,
		whitelist: wl,
		alerter:   alerter,
		nc:        nc,
		cfg:       cfg.withDefaults(),
	}
}

// Handle evaluates one detection and drives it to a terminal state.
func (o *Orchestrator) Handle(ctx context.Context, det detect.Detection) State {
	if o.whitelist != nil && o.whitelist.Contains(det.Indicator.Key(), time.Now()) {
		return StateSuppressed
	}
	if det.Severity < o.cfg.SuppressFloor {
		return StateSuppressed
	}
	if det.Severity < o.cfg.AutoThreshold {
		o.escalate(det, "severity in manual review band")
		return StateEscalated
	}

	if o.exec == nil {
		o.escalate(det, "no response collaborator configured")
		return StateEscalated
	}

	action := actionFor(det.Indicator.Type)
	if err := o.mitigate(ctx, action, det); err != nil {
		if o.alerter != nil {
			o.alerter.Raise(quality.AlertMitigationFailed, map[string]string{
				"action": string(action),
				"target": det.Indicator.Value,
			})
		}
		o.escalate(det, fmt.Sprintf("%s: %s", ErrMitigationFailed, action))
		return StateEscalated
	}
	return StateAutoMitigated
}

// actionFor picks the predefined mitigation for an indicator type. Network
// observables are blocked, host artifacts isolate the host, everything else
// notifies the response channel.
func actionFor(t indicator.Type) ActionType {
	switch t {
	case indicator.TypeIP, indicator.TypeDomain, indicator.TypeURL:
		return ActionBlockNetwork
	case indicator.TypeMD5, indicator.TypeSHA1, indicator.TypeSHA256,
		indicator.TypeProcess, indicator.TypeRegistry:
		return ActionIsolateHost
	default:
		return ActionNotifyChannel
	}
}

// mitigate executes the action through the shared retry policy. Each
// attempt writes one audit entry: success, retry when another attempt
// follows, failed on the last one.
func (o *Orchestrator) mitigate(ctx context.Context, action ActionType, det detect.Detection) error {
	target := det.Indicator.Value
	params := map[string]string{
		"detection_id": det.ID,
		"type":         string(det.Indicator.Type),
		"severity":     fmt.Sprintf("%.2f", det.Severity),
	}
	maxAttempts := o.cfg.Retry.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	attempt := uint64(0)
	return o.cfg.Retry.Do(ctx, func() error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, o.cfg.ActionTimeout)
		defer cancel()

		res, err := o.exec.Execute(actx, action, target, params)
		if err == nil && res.Success {
			o.audit.Append(action, target, OutcomeSuccess, res.Detail)
			quality.Mitigations.WithLabelValues(string(action), OutcomeSuccess).Inc()
			return nil
		}
		if err == nil {
			err = fmt.Errorf("collaborator refused: %s", res.Detail)
		}

		outcome := OutcomeRetry
		if attempt >= maxAttempts {
			outcome = OutcomeFailed
		}
		o.audit.Append(action, target, outcome, err.Error())
		quality.Mitigations.WithLabelValues(string(action), outcome).Inc()
		return err
	})
}

func (o *Orchestrator) escalate(det detect.Detection, reason string) {
	esc := Escalation{
		ID:        uuid.NewString(),
		Detection: det,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	o.queue.Push(esc)
	quality.Escalations.Inc()
	slog.Warn("detection escalated", "detection", det.ID, "reason", reason)

	if o.nc == nil {
		return
	}
	data, err := json.Marshal(esc)
	if err != nil {
		return
	}
	if err := o.nc.Publish(EscalationSubject, data); err != nil {
		slog.Error("escalation publish failed", "detection", det.ID, "err", err)
	}
}

// Audit exposes the audit log for the operator API.
func (o *Orchestrator) Audit() *AuditLog { return o.audit }

// Queue exposes the escalation queue for the operator API.
func (o *Orchestrator) Queue() *Queue { return o.queue }
