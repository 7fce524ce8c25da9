package client

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/domain"
)

// View is the locally held copy of one conversation. Confirmed messages
// are kept in sequence order and are unique by id; provisional messages
// sit after them in the order they were sent.
//
// Messages handed out by View share their Reactions maps, so callers
// replace maps instead of mutating them.
type View struct {
	mu        sync.RWMutex
	confirmed []domain.Message
	pending   []domain.Message
}

func NewView() *View {
	return &View{}
}

func (v *View) indexOf(id uuid.UUID) int {
	for i := range v.confirmed {
		if v.confirmed[i].ID == id {
			return i
		}
	}
	return -1
}

// Upsert merges an authoritative message. It reports whether the message
// was new to the view; a known id is replaced in place.
func (v *View) Upsert(msg domain.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.upsertLocked(msg)
}

func (v *View) upsertLocked(msg domain.Message) bool {
	if i := v.indexOf(msg.ID); i >= 0 {
		v.confirmed[i] = msg
		return false
	}
	i := sort.Search(len(v.confirmed), func(i int) bool { return v.confirmed[i].Seq > msg.Seq })
	v.confirmed = append(v.confirmed, domain.Message{})
	copy(v.confirmed[i+1:], v.confirmed[i:])
	v.confirmed[i] = msg
	return true
}

// Merge upserts a batch, typically a page from the server.
func (v *View) Merge(msgs []domain.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, m := range msgs {
		v.upsertLocked(m)
	}
}

// Replace overwrites a known message and ignores unknown ids.
func (v *View) Replace(msg domain.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.indexOf(msg.ID)
	if i < 0 {
		return false
	}
	v.confirmed[i] = msg
	return true
}

// Update applies fn to the message with id, confirmed or provisional.
func (v *View) Update(id uuid.UUID, fn func(*domain.Message)) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i := v.indexOf(id); i >= 0 {
		fn(&v.confirmed[i])
		return true
	}
	for i := range v.pending {
		if v.pending[i].ID == id {
			fn(&v.pending[i])
			return true
		}
	}
	return false
}

func (v *View) Get(id uuid.UUID) (domain.Message, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if i := v.indexOf(id); i >= 0 {
		return v.confirmed[i], true
	}
	for _, m := range v.pending {
		if m.ID == id {
			return m, true
		}
	}
	return domain.Message{}, false
}

func (v *View) Remove(id uuid.UUID) (domain.Message, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i := v.indexOf(id); i >= 0 {
		m := v.confirmed[i]
		v.confirmed = append(v.confirmed[:i], v.confirmed[i+1:]...)
		return m, true
	}
	return v.removePendingLocked(id)
}

func (v *View) removePendingLocked(id uuid.UUID) (domain.Message, bool) {
	for i, m := range v.pending {
		if m.ID == id {
			v.pending = append(v.pending[:i], v.pending[i+1:]...)
			return m, true
		}
	}
	return domain.Message{}, false
}

func (v *View) addPending(msg domain.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending = append(v.pending, msg)
}

// promote swaps a provisional message for the server's copy. If a push
// event already delivered that copy, only the provisional entry goes and
// promote reports false.
func (v *View) promote(tempID uuid.UUID, msg domain.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.removePendingLocked(tempID)
	return v.upsertLocked(msg)
}

// DropPending discards every provisional message.
func (v *View) DropPending() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending = nil
}

// Messages returns the view in display order.
func (v *View) Messages() []domain.Message {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]domain.Message, 0, len(v.confirmed)+len(v.pending))
	out = append(out, v.confirmed...)
	return append(out, v.pending...)
}

func (v *View) PendingCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.pending)
}

// Bounds returns the lowest and highest confirmed sequence numbers.
func (v *View) Bounds() (first, last uint64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.confirmed) == 0 {
		return 0, 0
	}
	return v.confirmed[0].Seq, v.confirmed[len(v.confirmed)-1].Seq
}
