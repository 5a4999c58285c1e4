package worker

import (
	"fmt"
	"sync"

	uuid "github.com/satori/go.uuid"
)

// coreLedger tracks how the pool's cores are spent. Cluster
// reservations carve cores out of the shared capacity; a reserved core
// is only usable by its owner's jobs. Jobs running on a reservation
// that gets released keep their cores until they finish, charged to
// the shared pool from that point on.
type coreLedger struct {
	mu sync.Mutex

	total      int
	sharedUsed int

	reservedTotal map[uuid.UUID]int
	reservedUsed  map[uuid.UUID]int
}

func newCoreLedger(total int) *coreLedger {
	return &coreLedger{
		total:         total,
		reservedTotal: make(map[uuid.UUID]int),
		reservedUsed:  make(map[uuid.UUID]int),
	}
}

func (l *coreLedger) reservedSum() int {
	sum := 0
	for _, n := range l.reservedTotal {
		sum += n
	}
	return sum
}

// Reserve grants owner a dedicated allotment of cores, shrinking the
// shared capacity. Fails when the pool has too few unreserved cores.
func (l *coreLedger) Reserve(owner uuid.UUID, cores int) error {
	if cores <= 0 {
		return fmt.Errorf("reservation must be positive, got %d", cores)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.reservedSum()+cores > l.total {
		return fmt.Errorf("insufficient capacity: %d cores requested, %d unreserved",
			cores, l.total-l.reservedSum())
	}
	l.reservedTotal[owner] += cores
	return nil
}

// Release returns owner's reserved cores to the shared pool. Cores
// still held by running jobs are charged to the shared pool until
// those jobs finish.
func (l *coreLedger) Release(owner uuid.UUID, cores int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.reservedTotal[owner] -= cores
	if l.reservedTotal[owner] <= 0 {
		delete(l.reservedTotal, owner)
	}

	if used := l.reservedUsed[owner]; used > l.reservedTotal[owner] {
		overflow := used - l.reservedTotal[owner]
		l.reservedUsed[owner] = l.reservedTotal[owner]
		if l.reservedUsed[owner] == 0 {
			delete(l.reservedUsed, owner)
		}
		l.sharedUsed += overflow
	}
}

// Acquire charges cores for one job. Owner reservations are consumed
// first, then the shared pool. Reports whether the cores came from the
// reservation; false with ok=false means the job does not fit yet.
func (l *coreLedger) Acquire(owner uuid.UUID, cores int) (fromReservation bool, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if free := l.reservedTotal[owner] - l.reservedUsed[owner]; free >= cores {
		l.reservedUsed[owner] += cores
		return true, true
	}

	sharedCapacity := l.total - l.reservedSum()
	if l.sharedUsed+cores <= sharedCapacity {
		l.sharedUsed += cores
		return false, true
	}
	return false, false
}

func (l *coreLedger) ReleaseJob(owner uuid.UUID, cores int, fromReservation bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if fromReservation {
		if l.reservedUsed[owner] >= cores {
			l.reservedUsed[owner] -= cores
			if l.reservedUsed[owner] == 0 {
				delete(l.reservedUsed, owner)
			}
			return
		}
		// The reservation shrank underneath the job; the remainder was
		// charged to the shared pool by Release.
		remainder := cores - l.reservedUsed[owner]
		delete(l.reservedUsed, owner)
		l.sharedUsed -= remainder
		if l.sharedUsed < 0 {
			l.sharedUsed = 0
		}
		return
	}

	l.sharedUsed -= cores
	if l.sharedUsed < 0 {
		l.sharedUsed = 0
	}
}

// Reserved reports owner's currently reserved cores.
func (l *coreLedger) Reserved(owner uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reservedTotal[owner]
}
