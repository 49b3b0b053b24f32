package reservation

import (
	"hash/fnv"
	"sync"
	"time"

	"mentorbook/internal/models"
)

const stripeCount = 64

// Table is the in-memory holds table: a lock-striped map keyed by owner so
// that reservations for unrelated mentors never serialize against each other.
// It is explicitly owned and injected into the coordinator, which keeps unit
// tests deterministic without a datastore.
type Table struct {
	stripes [stripeCount]tableStripe
	owners  sync.Map // hold ID -> owner key, for lookups that only have the ID
}

type tableStripe struct {
	mu      sync.Mutex
	byOwner map[string]map[string]*models.ReservationHold
}

func NewTable() *Table {
	t := &Table{}
	for i := range t.stripes {
		t.stripes[i].byOwner = make(map[string]map[string]*models.ReservationHold)
	}
	return t
}

func (t *Table) stripeFor(owner string) *tableStripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(owner))
	return &t.stripes[h.Sum32()%stripeCount]
}

// withOwner runs fn with the owner's stripe locked.
func (t *Table) withOwner(owner string, fn func(holds map[string]*models.ReservationHold)) {
	s := t.stripeFor(owner)
	s.mu.Lock()
	defer s.mu.Unlock()

	holds, ok := s.byOwner[owner]
	if !ok {
		holds = make(map[string]*models.ReservationHold)
		s.byOwner[owner] = holds
	}
	fn(holds)
}

func (t *Table) insert(h *models.ReservationHold) {
	t.withOwner(h.MentorID, func(holds map[string]*models.ReservationHold) {
		holds[h.ID] = h
	})
	t.owners.Store(h.ID, h.MentorID)
}

// remove deletes a hold by ID. It is a no-op when the hold is already gone.
func (t *Table) remove(holdID string) {
	owner, ok := t.owners.Load(holdID)
	if !ok {
		return
	}
	t.withOwner(owner.(string), func(holds map[string]*models.ReservationHold) {
		delete(holds, holdID)
	})
	t.owners.Delete(holdID)
}

// take removes the hold atomically and reports whether it was still live at
// now. Exactly one caller can take a given hold; replays lose the race and
// see it as expired.
func (t *Table) take(holdID string, now time.Time) (*models.ReservationHold, bool) {
	owner, ok := t.owners.Load(holdID)
	if !ok {
		return nil, false
	}

	var (
		taken *models.ReservationHold
		live  bool
	)
	t.withOwner(owner.(string), func(holds map[string]*models.ReservationHold) {
		h, ok := holds[holdID]
		if !ok {
			return
		}
		delete(holds, holdID)
		taken = h
		live = !h.Expired(now)
	})
	if taken != nil {
		t.owners.Delete(holdID)
	}
	return taken, live
}

// sweepOwnerLocked drops expired holds for one owner. Callers must hold the
// owner's stripe lock, which withOwner guarantees.
func sweepOwnerLocked(holds map[string]*models.ReservationHold, now time.Time, onExpire func(*models.ReservationHold)) int {
	expired := 0
	for id, h := range holds {
		if h.Expired(now) {
			delete(holds, id)
			expired++
			if onExpire != nil {
				onExpire(h)
			}
		}
	}
	return expired
}

// SweepExpired walks every stripe and drops expired holds. Used as the
// periodic safety net; the per-access sweep in Reserve covers the hot path.
func (t *Table) SweepExpired(now time.Time) int {
	total := 0
	for i := range t.stripes {
		s := &t.stripes[i]
		s.mu.Lock()
		for owner, holds := range s.byOwner {
			total += sweepOwnerLocked(holds, now, func(h *models.ReservationHold) {
				t.owners.Delete(h.ID)
			})
			if len(holds) == 0 {
				delete(s.byOwner, owner)
			}
		}
		s.mu.Unlock()
	}
	return total
}
