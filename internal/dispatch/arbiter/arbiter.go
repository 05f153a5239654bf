package arbiter

import (
	"github.com/example/dispatchradio/internal/dispatch/domain"
)

// Decision is the outcome of a channel request.
type Decision int

const (
	Denied Decision = iota
	Granted
	// Reaffirmed is returned when the holder asks again; the grant stands and
	// nothing changes.
	Reaffirmed
)

func (d Decision) String() string {
	switch d {
	case Granted:
		return "granted"
	case Reaffirmed:
		return "reaffirmed"
	default:
		return "denied"
	}
}

// Arbiter is the push-to-talk token: FREE when holder is nil, HELD otherwise.
// Callers serialize access.
type Arbiter struct {
	holder *domain.ChannelHolder
}

func New() *Arbiter { return &Arbiter{} }

// Request grants the channel to req when it is free.
func (a *Arbiter) Request(req domain.ChannelHolder) Decision {
	switch {
	case a.holder == nil:
		h := req
		a.holder = &h
		return Granted
	case a.holder.ConnectionID == req.ConnectionID:
		return Reaffirmed
	default:
		return Denied
	}
}

// Release frees the channel if connID holds it.
func (a *Arbiter) Release(connID string) bool {
	if a.holder == nil || a.holder.ConnectionID != connID {
		return false
	}
	a.holder = nil
	return true
}

// ForceRelease is Release triggered by a disconnect rather than the client.
func (a *Arbiter) ForceRelease(connID string) bool { return a.Release(connID) }

func (a *Arbiter) Holder() (domain.ChannelHolder, bool) {
	if a.holder == nil {
		return domain.ChannelHolder{}, false
	}
	return *a.holder, true
}

func (a *Arbiter) IsHolder(connID string) bool {
	return a.holder != nil && a.holder.ConnectionID == connID
}
