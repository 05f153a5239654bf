package domain

import (
	"context"
	"time"
)

// Inbound event names.
const (
	EventRegisterDriver      = "registerDriver"
	EventReportLocation      = "reportLocation"
	EventAssignService       = "assignService"
	EventReportServiceStatus = "reportServiceStatus"
	EventChatMessage         = "chatMessage"
	EventRequestChannel      = "requestChannel"
	EventReleaseChannel      = "releaseChannel"
)

// Outbound event names.
const (
	EventWelcome              = "welcome"
	EventRosterUpdate         = "rosterUpdate"
	EventServiceAssigned      = "serviceAssigned"
	EventServiceListUpdate    = "serviceListUpdate"
	EventChannelGranted       = "channelGranted"
	EventChannelDenied        = "channelDenied"
	EventChannelHolderChanged = "channelHolderChanged"
)

type DispatchEventType string

const (
	DispatchDriverRegistered   DispatchEventType = "DriverRegistered"
	DispatchDriverDisconnected DispatchEventType = "DriverDisconnected"
	DispatchServiceAssigned    DispatchEventType = "ServiceAssigned"
	DispatchServiceStatus      DispatchEventType = "ServiceStatusChanged"
	DispatchChannelGranted     DispatchEventType = "ChannelGranted"
	DispatchChannelReleased    DispatchEventType = "ChannelReleased"
)

// DispatchEvent is an audit record of a state change, published to the
// event stream after the change has been applied.
type DispatchEvent struct {
	Type         DispatchEventType `json:"type"`
	ConnectionID string            `json:"connectionId"`
	Payload      map[string]any    `json:"payload,omitempty"`
	OccurredAt   time.Time         `json:"occurredAt"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event DispatchEvent) error
}
