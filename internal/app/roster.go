package app

import "beatbattle-controller/internal/domain"

// Roster maintains the set of connected participants. Every operation is
// idempotent and tolerates duplicate delivery, because the transport gives
// at-least-once, not exactly-once. List position is first-seen, field values
// are last-write.
//
// Roster is not safe for concurrent use on its own; the Session serializes
// access.
type Roster struct {
	order []string
	byID  map[string]domain.Participant
}

func NewRoster() *Roster {
	return &Roster{byID: make(map[string]domain.Participant)}
}

// Upsert adds or updates a participant. Re-adding an existing id updates
// fields, never duplicates the entry. At most one host is retained: a new
// host flag demotes any previous holder.
func (r *Roster) Upsert(p domain.Participant) {
	if p.ID == "" {
		return
	}
	if p.IsHost {
		r.demoteHostsExcept(p.ID)
	}
	if _, ok := r.byID[p.ID]; !ok {
		r.order = append(r.order, p.ID)
	}
	r.byID[p.ID] = p
}

// Remove drops a participant; unknown ids are a no-op.
func (r *Roster) Remove(id string) {
	if _, ok := r.byID[id]; !ok {
		return
	}
	delete(r.byID, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// SetReady flips the ready flag; reports whether the id was known.
func (r *Roster) SetReady(id string, ready bool) bool {
	p, ok := r.byID[id]
	if !ok {
		return false
	}
	p.IsReady = ready
	r.byID[id] = p
	return true
}

// Replace swaps the whole roster for a full server snapshot.
func (r *Roster) Replace(list []domain.Participant) {
	r.order = r.order[:0]
	clear(r.byID)
	for _, p := range list {
		r.Upsert(p)
	}
}

// Get returns a participant by id.
func (r *Roster) Get(id string) (domain.Participant, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// List returns the participants in first-seen order.
func (r *Roster) List() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Len returns the roster size.
func (r *Roster) Len() int { return len(r.order) }

// AllReady reports whether the roster is non-empty and every participant is
// ready. The server stays authoritative about actually starting; this only
// reflects the trigger condition.
func (r *Roster) AllReady() bool {
	if len(r.order) == 0 {
		return false
	}
	for _, p := range r.byID {
		if !p.IsReady {
			return false
		}
	}
	return true
}

func (r *Roster) demoteHostsExcept(id string) {
	for pid, p := range r.byID {
		if pid != id && p.IsHost {
			p.IsHost = false
			r.byID[pid] = p
		}
	}
}
