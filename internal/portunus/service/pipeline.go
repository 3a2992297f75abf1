package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Portunus/gateway/internal/bus"
	"github.com/BrandonDHaskell/Portunus/gateway/internal/metrics"
	"github.com/BrandonDHaskell/Portunus/gateway/internal/portunus/codec"
	"github.com/BrandonDHaskell/Portunus/gateway/internal/portunus/store"
	"github.com/BrandonDHaskell/Portunus/gateway/internal/portunus/types"
)

// State is the furthest stage a message reached in the pipeline.
type State int

const (
	StateReceived State = iota
	StateDecoded
	StateAuthorized
	StatePersisted
	StateResponded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateDecoded:
		return "decoded"
	case StateAuthorized:
		return "authorized"
	case StatePersisted:
		return "persisted"
	case StateResponded:
		return "responded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FailureReason says why a message ended in StateFailed.
type FailureReason string

const (
	ReasonMalformedRequest  FailureReason = "malformed_request"
	ReasonPersistenceFailed FailureReason = "persistence_failed"
	ReasonPublishFailed     FailureReason = "publish_failed"
)

// maxLoggedPayload caps how much of a rejected payload is echoed to the log.
const maxLoggedPayload = 256

// Result describes how one message went through the pipeline.
type Result struct {
	MessageID string
	State     State
	Reason    FailureReason // set only when State == StateFailed
	Err       error

	Request  types.AccessRequest
	Decision types.AccessDecision
	Record   store.AuditRecord // zero unless the append succeeded
	Topic    string
}

// Persisted reports whether an audit record was written for the message.
func (r Result) Persisted() bool { return r.Record.ID != 0 }

type PipelineDeps struct {
	Logger       *slog.Logger
	Policy       AccessPolicy
	AuditLog     store.AuditLog
	Publisher    bus.Publisher
	ResponseBase string
	Metrics      *metrics.Metrics

	// Optional; default to time.Now and uuid.NewString.
	Clock func() time.Time
	NewID func() string
}

// Pipeline turns one inbound request payload into an audited decision and a
// response to the requesting device.  A response is only published after
// its audit record is confirmed.
type Pipeline struct {
	logger       *slog.Logger
	policy       AccessPolicy
	auditLog     store.AuditLog
	publisher    bus.Publisher
	responseBase string
	metrics      *metrics.Metrics
	clock        func() time.Time
	newID        func() string
}

func NewPipeline(d PipelineDeps) *Pipeline {
	p := &Pipeline{
		logger:       d.Logger,
		policy:       d.Policy,
		auditLog:     d.AuditLog,
		publisher:    d.Publisher,
		responseBase: d.ResponseBase,
		metrics:      d.Metrics,
		clock:        d.Clock,
		newID:        d.NewID,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.newID == nil {
		p.newID = uuid.NewString
	}
	return p
}

// HandleMessage adapts Handle to bus.Handler.
func (p *Pipeline) HandleMessage(ctx context.Context, payload []byte) {
	_ = p.Handle(ctx, payload)
}

// Handle runs payload through decode, authorize, persist and respond.  Once
// accepted a message runs to completion: cancellation of ctx does not abort
// the append or the publish.
func (p *Pipeline) Handle(ctx context.Context, payload []byte) Result {
	ctx = context.WithoutCancel(ctx)
	res := Result{MessageID: p.newID(), State: StateReceived}
	log := p.logger.With(slog.String("msg_id", res.MessageID))

	req, err := codec.DecodeRequest(payload)
	if err != nil {
		log.Warn("rejected access request",
			slog.String("error", err.Error()),
			slog.String("payload", truncate(payload, maxLoggedPayload)),
		)
		return p.fail(res, ReasonMalformedRequest, err)
	}
	res.Request = req
	res.State = StateDecoded

	log = log.With(
		slog.String("credential_id", req.CredentialID),
		slog.String("door_id", req.DoorID),
		slog.String("device_id", req.DeviceID),
	)

	res.Decision = types.NewDecision(req, p.policy.Evaluate(req.CredentialID), p.clock())
	res.State = StateAuthorized

	start := time.Now()
	rec, err := p.auditLog.Append(ctx, res.Decision)
	p.metrics.ObserveAppendLatency(time.Since(start))
	if err != nil {
		// No record, no response: an unaudited decision is never sent.
		log.Error("audit append failed; withholding response",
			slog.Bool("authorized", res.Decision.Authorized),
			slog.String("error", err.Error()),
		)
		return p.fail(res, ReasonPersistenceFailed, err)
	}
	res.Record = rec
	res.State = StatePersisted
	p.metrics.IncrementDecision(rec.Authorized)

	res.Topic = codec.ResponseTopic(p.responseBase, req.DeviceID)
	if err := p.publisher.Publish(ctx, res.Topic, codec.EncodeDecision(res.Decision)); err != nil {
		// The record stands; the device retries if no reply arrives.
		log.Warn("publish decision failed",
			slog.Int64("record_id", rec.ID),
			slog.String("topic", res.Topic),
			slog.String("error", err.Error()),
		)
		return p.fail(res, ReasonPublishFailed, err)
	}
	res.State = StateResponded

	log.Info("access decision",
		slog.Bool("authorized", rec.Authorized),
		slog.Int64("record_id", rec.ID),
		slog.String("topic", res.Topic),
	)
	return res
}

func (p *Pipeline) fail(res Result, reason FailureReason, err error) Result {
	res.State = StateFailed
	res.Reason = reason
	res.Err = err
	p.metrics.IncrementFailure(string(reason))
	return res
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
