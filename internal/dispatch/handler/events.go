package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/example/dispatchradio/internal/dispatch/domain"
	"github.com/example/dispatchradio/internal/dispatch/service"
)

// Envelope is the JSON shape of every text frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type registerDriverPayload struct {
	DriverCode  string `json:"driverCode"`
	DisplayName string `json:"displayName"`
}

type reportLocationPayload struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

type assignServicePayload struct {
	TargetDriverConnectionID string `json:"targetDriverConnectionId"`
	Address                  string `json:"address"`
}

type reportServiceStatusPayload struct {
	ServiceID int64  `json:"serviceId"`
	NewStatus string `json:"newStatus"`
}

type requestChannelPayload struct {
	Role        string `json:"role"`
	DriverCode  string `json:"driverCode"`
	DisplayName string `json:"displayName"`
}

// EventRouter decodes inbound frames and hands them to the engine.
type EventRouter struct {
	engine *service.Engine
	logger *zap.Logger
}

// NewEventRouter constructs a router.
func NewEventRouter(engine *service.Engine, logger *zap.Logger) *EventRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventRouter{engine: engine, logger: logger}
}

// HandleText routes one JSON envelope from connID. The returned error is for
// logging only; nothing is sent back to the client on failure.
func (r *EventRouter) HandleText(ctx context.Context, connID string, raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	switch env.Event {
	case domain.EventRegisterDriver:
		var p registerDriverPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		r.engine.RegisterDriver(ctx, connID, strings.TrimSpace(p.DriverCode), strings.TrimSpace(p.DisplayName))

	case domain.EventReportLocation:
		var p reportLocationPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		if p.Lat == nil || p.Lng == nil {
			return fmt.Errorf("%w: %s requires lat and lng", domain.ErrMalformedEvent, env.Event)
		}
		if *p.Lat < -90 || *p.Lat > 90 || *p.Lng < -180 || *p.Lng > 180 {
			return fmt.Errorf("%w: coordinates out of range", domain.ErrMalformedEvent)
		}
		r.engine.ReportLocation(ctx, connID, domain.GeoPoint{Lat: *p.Lat, Lng: *p.Lng})

	case domain.EventAssignService:
		var p assignServicePayload
		if err := decode(env, &p); err != nil {
			return err
		}
		if p.TargetDriverConnectionID == "" {
			return fmt.Errorf("%w: %s requires targetDriverConnectionId", domain.ErrMalformedEvent, env.Event)
		}
		if _, err := r.engine.AssignService(ctx, connID, p.TargetDriverConnectionID, p.Address); err != nil {
			return err
		}

	case domain.EventReportServiceStatus:
		var p reportServiceStatusPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		status := strings.TrimSpace(p.NewStatus)
		if status == "" {
			return fmt.Errorf("%w: %s requires newStatus", domain.ErrMalformedEvent, env.Event)
		}
		if _, err := r.engine.ReportServiceStatus(ctx, connID, p.ServiceID, domain.ServiceStatus(status)); err != nil {
			return err
		}

	case domain.EventChatMessage:
		payload := env.Data
		if len(payload) == 0 {
			payload = json.RawMessage("null")
		}
		r.engine.Chat(ctx, connID, payload)

	case domain.EventRequestChannel:
		var p requestChannelPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		role, err := domain.ParseRole(p.Role)
		if err != nil {
			return fmt.Errorf("request channel %q: %w", p.Role, err)
		}
		r.engine.RequestChannel(ctx, service.ChannelRequest{
			ConnectionID: connID,
			Role:         role,
			DriverCode:   p.DriverCode,
			DisplayName:  p.DisplayName,
		})

	case domain.EventReleaseChannel:
		r.engine.ReleaseChannel(ctx, connID)

	default:
		return fmt.Errorf("%w: unknown event %q", domain.ErrMalformedEvent, env.Event)
	}
	return nil
}

// HandleBinary treats every binary frame as audio.
func (r *EventRouter) HandleBinary(connID string, frame []byte) {
	r.engine.RelayAudio(connID, frame)
}

func decode(env Envelope, dst any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s without data", domain.ErrMalformedEvent, env.Event)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrMalformedEvent, env.Event, err)
	}
	return nil
}
