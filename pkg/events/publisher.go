package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/dispatchradio/internal/dispatch/domain"
)

// MsgPublisher is the subset of *nats.Conn used by Publisher.
type MsgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Publisher writes dispatch events to a NATS subject, one message per event,
// using "<subject>.<EventType>" so consumers can filter with wildcards.
type Publisher struct {
	conn    MsgPublisher
	subject string
}

// NewPublisher builds a Publisher. A nil conn yields a publisher that
// discards everything.
func NewPublisher(conn MsgPublisher, subject string) *Publisher {
	if subject == "" {
		subject = "dispatch.events"
	}
	return &Publisher{conn: conn, subject: subject}
}

// Publish satisfies domain.EventPublisher.
func (p *Publisher) Publish(ctx context.Context, event domain.DispatchEvent) error {
	if p == nil || p.conn == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := nats.NewMsg(p.subject + "." + string(event.Type))
	msg.Data = payload
	msg.Header.Set("x-event-type", string(event.Type))
	msg.Header.Set("x-connection-id", event.ConnectionID)
	if id := traceIDFromContext(ctx); id != "" {
		msg.Header.Set("x-trace-id", id)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
