package domain

import (
	"errors"
	"strings"
	"time"
)

type Availability string

const (
	AvailabilityAvailable Availability = "AVAILABLE"
	AvailabilityBusy      Availability = "BUSY"
)

// ServiceStatus is reported by drivers. Only StatusFinished carries behaviour;
// every other value is passed through to clients untouched.
type ServiceStatus string

const (
	StatusAssigned ServiceStatus = "assigned"
	StatusFinished ServiceStatus = "finished"
)

func (s ServiceStatus) IsTerminal() bool { return s == StatusFinished }

type Role string

const (
	RoleDispatcher Role = "DISPATCHER"
	RoleDriver     Role = "DRIVER"
)

var (
	ErrUnknownDriver  = errors.New("unknown driver connection")
	ErrUnknownService = errors.New("unknown service")
	ErrInvalidRole    = errors.New("invalid channel role")
	ErrMalformedEvent = errors.New("malformed event")
)

// ParseRole accepts the wire spellings used by the console and terminals.
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "dispatcher", "central":
		return RoleDispatcher, nil
	case "driver", "taxi":
		return RoleDriver, nil
	default:
		return "", ErrInvalidRole
	}
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Session is the live state of one connection registered as a driver.
type Session struct {
	ConnectionID string       `json:"connectionId"`
	DriverCode   string       `json:"driverCode"`
	DisplayName  string       `json:"displayName"`
	Availability Availability `json:"availability"`
	Location     *GeoPoint    `json:"location"`
}

// Clone returns a copy that shares no pointers with s.
func (s Session) Clone() Session {
	if s.Location != nil {
		loc := *s.Location
		s.Location = &loc
	}
	return s
}

// Service is one dispatch job. DriverName is captured at assignment time.
type Service struct {
	ID                 int64         `json:"id"`
	DriverConnectionID string        `json:"driverConnectionId"`
	DriverName         string        `json:"driverName"`
	Address            string        `json:"address"`
	Status             ServiceStatus `json:"status"`
}

// ChannelHolder identifies the single connection allowed to transmit voice.
type ChannelHolder struct {
	ConnectionID string `json:"connectionId"`
	Role         Role   `json:"role"`
	DriverCode   string `json:"driverCode,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
}

type IDGenerator interface {
	NextID() int64
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
