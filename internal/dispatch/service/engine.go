package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/dispatchradio/internal/dispatch/arbiter"
	"github.com/example/dispatchradio/internal/dispatch/domain"
	"github.com/example/dispatchradio/internal/dispatch/fanout"
	"github.com/example/dispatchradio/internal/dispatch/repository"
)

// Broadcaster delivers messages to connections.
type Broadcaster interface {
	Add(sink fanout.Sink)
	Remove(connID string) bool
	BroadcastAll(msg fanout.Message)
	BroadcastAllExcept(msg fanout.Message, excluded string)
	SendTo(connID string, msg fanout.Message) bool
	Connected() []string
}

// ChannelRequest is a push-to-talk request. DriverCode and DisplayName are
// optional; when omitted by a registered driver they are taken from its session.
type ChannelRequest struct {
	ConnectionID string
	Role         domain.Role
	DriverCode   string
	DisplayName  string
}

// Engine owns the session registry, the service ledger and the channel
// arbiter. Every operation runs to completion under one mutex, including
// queueing its outbound messages, so each connection sees state changes in
// the order they happened. Socket writes happen outside the lock, on the
// transport's writer goroutines.
type Engine struct {
	mu       sync.Mutex
	sessions *repository.SessionRegistry
	ledger   *repository.Ledger
	channel  *arbiter.Arbiter
	out      Broadcaster
	events   domain.EventPublisher
	clock    domain.Clock
	logger   *zap.Logger
	tracer   trace.Tracer

	// pending collects stream events while mu is held.
	pending []domain.DispatchEvent
	// ticket is the publish turn handed to the next operation; guarded by mu.
	ticket uint64

	turnMu   sync.Mutex
	turnCond *sync.Cond
	turn     uint64
}

// New constructs an Engine. events may be nil.
func New(out Broadcaster, ids domain.IDGenerator, events domain.EventPublisher, clock domain.Clock, logger *zap.Logger) *Engine {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if ids == nil {
		ids = repository.NewSequenceIDs(clock)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		sessions: repository.NewSessionRegistry(),
		ledger:   repository.NewLedger(ids),
		channel:  arbiter.New(),
		out:      out,
		events:   events,
		clock:    clock,
		logger:   logger,
		tracer:   otel.Tracer("dispatch.engine"),
	}
	e.turnCond = sync.NewCond(&e.turnMu)
	return e
}

// Connect attaches a new connection and sends it the current state.
func (e *Engine) Connect(ctx context.Context, sink fanout.Sink) {
	connID := sink.ID()
	_ = e.do(ctx, "connect", connID, func() error {
		e.out.Add(sink)
		e.out.SendTo(connID, fanout.Event(domain.EventWelcome, map[string]string{"connectionId": connID}))
		e.out.SendTo(connID, e.rosterMessage())
		e.out.SendTo(connID, e.serviceListMessage())
		e.out.SendTo(connID, e.holderMessage())
		connectionsGauge.Set(float64(len(e.out.Connected())))
		return nil
	})
	e.logger.Info("connection opened", zap.String("conn_id", connID))
}

// Disconnect removes the connection's session and releases the channel if it
// held it. Both effects produce their normal broadcasts.
func (e *Engine) Disconnect(ctx context.Context, connID string) {
	_ = e.do(ctx, "disconnect", connID, func() error {
		e.out.Remove(connID)
		if e.sessions.Remove(connID) {
			e.broadcastRoster()
			e.record(domain.DispatchDriverDisconnected, connID, nil)
		}
		if e.channel.ForceRelease(connID) {
			channelDecisions.WithLabelValues("force_released").Inc()
			e.out.BroadcastAll(e.holderMessage())
			e.record(domain.DispatchChannelReleased, connID, map[string]any{"reason": "disconnect"})
			e.logger.Info("channel force released", zap.String("conn_id", connID))
		}
		connectionsGauge.Set(float64(len(e.out.Connected())))
		return nil
	})
	e.logger.Info("connection closed", zap.String("conn_id", connID))
}

// RegisterDriver creates or overwrites the driver session for connID.
func (e *Engine) RegisterDriver(ctx context.Context, connID, driverCode, displayName string) domain.Session {
	var session domain.Session
	_ = e.do(ctx, domain.EventRegisterDriver, connID, func() error {
		session = e.sessions.Register(connID, driverCode, displayName)
		e.broadcastRoster()
		e.record(domain.DispatchDriverRegistered, connID, map[string]any{
			"driver_code":  driverCode,
			"display_name": displayName,
		})
		return nil
	})
	e.logger.Info("driver registered",
		zap.String("conn_id", connID),
		zap.String("driver_code", driverCode),
	)
	return session
}

// ReportLocation updates the driver's position. It reports false, and
// broadcasts nothing, when connID has no session.
func (e *Engine) ReportLocation(ctx context.Context, connID string, point domain.GeoPoint) bool {
	var updated bool
	_ = e.do(ctx, domain.EventReportLocation, connID, func() error {
		updated = e.sessions.UpdateLocation(connID, point)
		if updated {
			e.broadcastRoster()
		}
		return nil
	})
	return updated
}

// AssignService records a new service for targetID. It fails with
// domain.ErrUnknownDriver, leaving state untouched, when the target has no
// live session.
func (e *Engine) AssignService(ctx context.Context, dispatcherID, targetID, address string) (domain.Service, error) {
	var svc domain.Service
	err := e.do(ctx, domain.EventAssignService, dispatcherID, func() error {
		driver, ok := e.sessions.Get(targetID)
		if !ok {
			return fmt.Errorf("assign to %q: %w", targetID, domain.ErrUnknownDriver)
		}
		svc = e.ledger.Append(driver, address)
		e.sessions.SetAvailability(targetID, domain.AvailabilityBusy)
		e.out.SendTo(targetID, fanout.Event(domain.EventServiceAssigned, svc))
		e.broadcastRoster()
		e.broadcastServices()
		e.record(domain.DispatchServiceAssigned, dispatcherID, map[string]any{
			"service_id": svc.ID,
			"driver":     targetID,
			"address":    address,
		})
		return nil
	})
	if err != nil {
		e.logger.Debug("assignment ignored", zap.String("conn_id", dispatcherID), zap.Error(err))
		return domain.Service{}, err
	}
	e.logger.Info("service assigned",
		zap.Int64("service_id", svc.ID),
		zap.String("driver_conn_id", targetID),
	)
	return svc, nil
}

// ReportServiceStatus sets the status of serviceID. A "finished" status makes
// the reporting connection available again.
func (e *Engine) ReportServiceStatus(ctx context.Context, connID string, serviceID int64, status domain.ServiceStatus) (domain.Service, error) {
	var svc domain.Service
	err := e.do(ctx, domain.EventReportServiceStatus, connID, func() error {
		var err error
		svc, err = e.ledger.SetStatus(serviceID, status)
		if err != nil {
			return err
		}
		if status.IsTerminal() {
			if svc.DriverConnectionID != connID {
				e.logger.Warn("service finished by a connection other than its driver",
					zap.Int64("service_id", svc.ID),
					zap.String("conn_id", connID),
					zap.String("driver_conn_id", svc.DriverConnectionID),
				)
			}
			e.sessions.SetAvailability(connID, domain.AvailabilityAvailable)
		}
		e.broadcastRoster()
		e.broadcastServices()
		e.record(domain.DispatchServiceStatus, connID, map[string]any{
			"service_id": svc.ID,
			"status":     string(status),
		})
		return nil
	})
	if err != nil {
		e.logger.Debug("status report ignored", zap.String("conn_id", connID), zap.Error(err))
		return domain.Service{}, err
	}
	return svc, nil
}

// Chat relays payload verbatim to every connection.
func (e *Engine) Chat(ctx context.Context, connID string, payload json.RawMessage) {
	_ = e.do(ctx, domain.EventChatMessage, connID, func() error {
		e.out.BroadcastAll(fanout.Event(domain.EventChatMessage, payload))
		return nil
	})
}

// RequestChannel asks for the push-to-talk token. The requester alone gets
// channelGranted or channelDenied; a fresh grant is announced to everyone,
// the holder included.
func (e *Engine) RequestChannel(ctx context.Context, req ChannelRequest) arbiter.Decision {
	var decision arbiter.Decision
	_ = e.do(ctx, domain.EventRequestChannel, req.ConnectionID, func() error {
		holder := domain.ChannelHolder{
			ConnectionID: req.ConnectionID,
			Role:         req.Role,
			DriverCode:   req.DriverCode,
			DisplayName:  req.DisplayName,
		}
		if s, ok := e.sessions.Get(req.ConnectionID); ok && req.Role == domain.RoleDriver {
			if holder.DriverCode == "" {
				holder.DriverCode = s.DriverCode
			}
			if holder.DisplayName == "" {
				holder.DisplayName = s.DisplayName
			}
		}

		decision = e.channel.Request(holder)
		channelDecisions.WithLabelValues(decision.String()).Inc()
		switch decision {
		case arbiter.Granted:
			e.out.SendTo(req.ConnectionID, fanout.Event(domain.EventChannelGranted, nil))
			e.out.BroadcastAll(e.holderMessage())
			e.record(domain.DispatchChannelGranted, req.ConnectionID, map[string]any{"role": string(req.Role)})
		case arbiter.Reaffirmed:
			e.out.SendTo(req.ConnectionID, fanout.Event(domain.EventChannelGranted, nil))
		default:
			e.out.SendTo(req.ConnectionID, fanout.Event(domain.EventChannelDenied, nil))
		}
		return nil
	})
	e.logger.Debug("channel request",
		zap.String("conn_id", req.ConnectionID),
		zap.String("decision", decision.String()),
	)
	return decision
}

// ReleaseChannel frees the channel when connID holds it; otherwise nothing
// happens.
func (e *Engine) ReleaseChannel(ctx context.Context, connID string) bool {
	var released bool
	_ = e.do(ctx, domain.EventReleaseChannel, connID, func() error {
		released = e.channel.Release(connID)
		if released {
			channelDecisions.WithLabelValues("released").Inc()
			e.out.BroadcastAll(e.holderMessage())
			e.record(domain.DispatchChannelReleased, connID, map[string]any{"reason": "release"})
		}
		return nil
	})
	return released
}

// RelayAudio forwards frame to every other connection when connID holds the
// channel. Frames from anyone else are dropped without a reply.
func (e *Engine) RelayAudio(connID string, frame []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.channel.IsHolder(connID) {
		audioFrames.WithLabelValues("dropped").Inc()
		return false
	}
	e.out.BroadcastAllExcept(fanout.Audio(frame), connID)
	audioFrames.WithLabelValues("relayed").Inc()
	audioBytes.Add(float64(len(frame)))
	return true
}

// Roster returns a copy of all driver sessions.
func (e *Engine) Roster() map[string]domain.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions.Snapshot()
}

// Session returns the driver session for connID.
func (e *Engine) Session(connID string) (domain.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions.Get(connID)
}

// Services returns the ledger in insertion order.
func (e *Engine) Services() []domain.Service {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.List()
}

func (e *Engine) Service(id int64) (domain.Service, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Get(id)
}

// ChannelHolder returns the current holder, if any.
func (e *Engine) ChannelHolder() (domain.ChannelHolder, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channel.Holder()
}

// do runs fn inside the critical section and publishes the stream events it
// recorded once the lock is released, in lock order.
func (e *Engine) do(ctx context.Context, op, connID string, fn func() error) error {
	ctx, span := e.tracer.Start(ctx, "dispatch."+op, trace.WithAttributes(
		attribute.String("dispatch.connection_id", connID),
	))
	defer span.End()

	pending, ticket, err := e.apply(fn)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		eventsTotal.WithLabelValues(op, "ignored").Inc()
	} else {
		eventsTotal.WithLabelValues(op, "applied").Inc()
	}
	if e.events != nil {
		e.publishInTurn(ctx, ticket, pending)
	}
	return err
}

func (e *Engine) apply(fn func() error) ([]domain.DispatchEvent, uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	// a panicking fn leaves pending for the next operation and takes no ticket
	err := fn()
	pending := e.pending
	e.pending = nil
	ticket := e.ticket
	e.ticket++
	sessionsGauge.Set(float64(e.sessions.Len()))
	servicesGauge.Set(float64(e.ledger.Len()))
	return pending, ticket, err
}

// publishInTurn waits until every operation that took the lock earlier has
// published, then publishes events.
func (e *Engine) publishInTurn(ctx context.Context, ticket uint64, events []domain.DispatchEvent) {
	e.turnMu.Lock()
	for e.turn != ticket {
		e.turnCond.Wait()
	}
	e.turnMu.Unlock()

	defer func() {
		e.turnMu.Lock()
		e.turn++
		e.turnCond.Broadcast()
		e.turnMu.Unlock()
	}()
	e.publish(ctx, events)
}

func (e *Engine) record(typ domain.DispatchEventType, connID string, payload map[string]any) {
	if e.events == nil {
		return
	}
	e.pending = append(e.pending, domain.DispatchEvent{
		Type:         typ,
		ConnectionID: connID,
		Payload:      payload,
		OccurredAt:   e.clock.Now(),
	})
}

func (e *Engine) publish(ctx context.Context, events []domain.DispatchEvent) {
	for _, evt := range events {
		if err := e.events.Publish(ctx, evt); err != nil {
			e.logger.Warn("publish dispatch event", zap.String("type", string(evt.Type)), zap.Error(err))
		}
	}
}

func (e *Engine) broadcastRoster() { e.out.BroadcastAll(e.rosterMessage()) }

func (e *Engine) broadcastServices() { e.out.BroadcastAll(e.serviceListMessage()) }

func (e *Engine) rosterMessage() fanout.Message {
	return fanout.Event(domain.EventRosterUpdate, e.sessions.Snapshot())
}

func (e *Engine) serviceListMessage() fanout.Message {
	return fanout.Event(domain.EventServiceListUpdate, e.ledger.List())
}

func (e *Engine) holderMessage() fanout.Message {
	h, ok := e.channel.Holder()
	if !ok {
		return fanout.Event(domain.EventChannelHolderChanged, (*domain.ChannelHolder)(nil))
	}
	return fanout.Event(domain.EventChannelHolderChanged, &h)
}
