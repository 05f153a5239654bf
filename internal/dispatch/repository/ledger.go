package repository

import (
	"fmt"

	"github.com/example/dispatchradio/internal/dispatch/domain"
)

// Ledger is the append-only list of dispatch services. Entries are never
// removed and only their status changes. Like SessionRegistry it relies on the
// caller for synchronization.
type Ledger struct {
	ids      domain.IDGenerator
	services []domain.Service
	index    map[int64]int
}

// NewLedger constructs an empty ledger drawing ids from ids.
func NewLedger(ids domain.IDGenerator) *Ledger {
	return &Ledger{ids: ids, index: make(map[int64]int)}
}

// Append records a new service assigned to driver.
func (l *Ledger) Append(driver domain.Session, address string) domain.Service {
	svc := domain.Service{
		ID:                 l.ids.NextID(),
		DriverConnectionID: driver.ConnectionID,
		DriverName:         driver.DisplayName,
		Address:            address,
		Status:             domain.StatusAssigned,
	}
	l.index[svc.ID] = len(l.services)
	l.services = append(l.services, svc)
	return svc
}

// SetStatus updates the status of an existing service.
func (l *Ledger) SetStatus(id int64, status domain.ServiceStatus) (domain.Service, error) {
	pos, ok := l.index[id]
	if !ok {
		return domain.Service{}, fmt.Errorf("service %d: %w", id, domain.ErrUnknownService)
	}
	l.services[pos].Status = status
	return l.services[pos], nil
}

func (l *Ledger) Get(id int64) (domain.Service, bool) {
	pos, ok := l.index[id]
	if !ok {
		return domain.Service{}, false
	}
	return l.services[pos], true
}

// List returns a copy of all services in insertion order.
func (l *Ledger) List() []domain.Service {
	return append([]domain.Service(nil), l.services...)
}

func (l *Ledger) Len() int { return len(l.services) }
