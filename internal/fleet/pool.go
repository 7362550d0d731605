// Package fleet tracks the rider roster: who is free, what each busy rider
// is carrying and when they are expected back.
package fleet

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"riderdispatch/internal/model"
)

var (
	ErrRiderNotFound = errors.New("rider not found")
	ErrRiderBusy     = errors.New("rider is busy")
)

// DefaultReleaseThreshold frees a busy rider once less than this remains
// before the expected return.
const DefaultReleaseThreshold = 15 * time.Minute

// Pool is the rider roster. It is not safe for concurrent use; the owner
// serialises access.
type Pool struct {
	riders map[string]*model.Rider
	order  []string // insertion order
}

func NewPool() *Pool {
	return &Pool{riders: map[string]*model.Rider{}}
}

// Add registers a new available rider.
func (p *Pool) Add(name string) (*model.Rider, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("add rider: name is required")
	}
	r := &model.Rider{ID: uuid.NewString(), Name: name, Status: model.RiderAvailable}
	p.put(r)
	return r.Clone(), nil
}

// Restore loads a rider as persisted, keeping its ID and state. A busy rider
// without an expected free time is restored as available.
func (p *Pool) Restore(r *model.Rider) {
	c := r.Clone()
	if c.Status != model.RiderBusy || c.ExpectedFreeTime == nil {
		c.Status, c.Assignment, c.ExpectedFreeTime = model.RiderAvailable, nil, nil
	}
	p.put(c)
}

func (p *Pool) put(r *model.Rider) {
	if _, ok := p.riders[r.ID]; !ok {
		p.order = append(p.order, r.ID)
	}
	p.riders[r.ID] = r
}

func (p *Pool) Get(id string) (*model.Rider, error) {
	r, ok := p.riders[id]
	if !ok {
		return nil, fmt.Errorf("rider %q: %w", id, ErrRiderNotFound)
	}
	return r.Clone(), nil
}

// List returns copies of all riders in registration order.
func (p *Pool) List() []*model.Rider {
	out := make([]*model.Rider, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.riders[id].Clone())
	}
	return out
}

// Available counts riders that can take work.
func (p *Pool) Available() int {
	n := 0
	for _, r := range p.riders {
		if r.Status == model.RiderAvailable {
			n++
		}
	}
	return n
}

// Assign commits an available rider to a. A busy rider is rejected with
// ErrRiderBusy and nothing changes.
func (p *Pool) Assign(id string, a model.Assignment, now time.Time, est time.Duration) (*model.Rider, error) {
	r, ok := p.riders[id]
	if !ok {
		return nil, fmt.Errorf("assign: rider %q: %w", id, ErrRiderNotFound)
	}
	if r.Status != model.RiderAvailable {
		return nil, fmt.Errorf("assign: rider %q: %w", id, ErrRiderBusy)
	}
	a.OrderIDs = slices.Clone(a.OrderIDs)
	free := now.Add(est)
	r.Status = model.RiderBusy
	r.Assignment = &a
	r.ExpectedFreeTime = &free
	return r.Clone(), nil
}

// Release frees a rider and returns the assignment it was carrying, if any.
// Releasing an available rider is a no-op.
func (p *Pool) Release(id string) (*model.Assignment, error) {
	r, ok := p.riders[id]
	if !ok {
		return nil, fmt.Errorf("release: rider %q: %w", id, ErrRiderNotFound)
	}
	a := r.Assignment
	r.Status = model.RiderAvailable
	r.Assignment = nil
	r.ExpectedFreeTime = nil
	return a, nil
}

// Detach drops orderID from the rider's current assignment and reports
// whether the assignment has no orders left.
func (p *Pool) Detach(id string, orderID int64) bool {
	r, ok := p.riders[id]
	if !ok || r.Assignment == nil {
		return false
	}
	r.Assignment.OrderIDs = slices.DeleteFunc(r.Assignment.OrderIDs, func(x int64) bool { return x == orderID })
	return len(r.Assignment.OrderIDs) == 0
}

// Remove deletes an available rider from the roster.
func (p *Pool) Remove(id string) error {
	r, ok := p.riders[id]
	if !ok {
		return fmt.Errorf("remove: rider %q: %w", id, ErrRiderNotFound)
	}
	if r.Status == model.RiderBusy {
		return fmt.Errorf("remove: rider %q: %w", id, ErrRiderBusy)
	}
	delete(p.riders, id)
	p.order = slices.DeleteFunc(p.order, func(x string) bool { return x == id })
	return nil
}

// Released is a rider freed by a sweep together with what it carried.
type Released struct {
	RiderID    string
	Assignment model.Assignment
}

// Sweep frees every busy rider expected back within threshold of now.
// Running it twice at the same instant releases nothing the second time.
func (p *Pool) Sweep(now time.Time, threshold time.Duration) []Released {
	var out []Released
	for _, id := range p.order {
		r := p.riders[id]
		if r.Status != model.RiderBusy || r.ExpectedFreeTime == nil {
			continue
		}
		if r.ExpectedFreeTime.Sub(now) >= threshold {
			continue
		}
		rel := Released{RiderID: id}
		if r.Assignment != nil {
			rel.Assignment = *r.Assignment
		}
		r.Status = model.RiderAvailable
		r.Assignment = nil
		r.ExpectedFreeTime = nil
		out = append(out, rel)
	}
	return out
}
