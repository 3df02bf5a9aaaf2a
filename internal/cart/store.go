package cart

import (
	"errors"
	"sync"

	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
	"go.uber.org/zap"
)

var ErrLineNotFound = errors.New("cart line not found")

type EventKind string

const (
	EventLineAdded       EventKind = "line_added"
	EventLineUpdated     EventKind = "line_updated"
	EventLineRemoved     EventKind = "line_removed"
	EventPharmacyCleared EventKind = "pharmacy_cleared"
	EventReplaced        EventKind = "replaced"
)

// Event is the cart-changed notification. It carries the new item count so a badge
// can update without taking a snapshot.
type Event struct {
	Kind       EventKind
	PharmacyID int64
	LineID     string
	ItemCount  int
}

type Listener func(Event)

// Store holds the local view of the cart. All mutation goes through AddLine,
// UpdateQuantity, RemoveLine, ClearPharmacy and Replace; readers get copies.
type Store struct {
	mu        sync.RWMutex
	lines     []domain.CartLine
	loaded    bool
	listeners map[int]Listener
	nextSubID int
	logger    *zap.Logger
}

type StoreOption func(*Store)

// WithLogger sets the logger that reports panicking listeners.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) {
		s.logger = l
	}
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{listeners: make(map[int]Listener), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddLine merges into the existing line for the same pharmacy and medicine by summing
// quantity, or appends a new line.
func (s *Store) AddLine(line domain.CartLine) (domain.CartLine, error) {
	if err := line.Validate(); err != nil {
		return domain.CartLine{}, err
	}
	line.ID = domain.LineID(line.PharmacyID, line.MedicineID)

	s.mu.Lock()
	kind := EventLineAdded
	merged := line
	found := false
	for i := range s.lines {
		if s.lines[i].ID == line.ID {
			s.lines[i].Quantity += line.Quantity
			s.lines[i].UnitPrice = line.UnitPrice
			if line.MedicineName != "" {
				s.lines[i].MedicineName = line.MedicineName
			}
			if line.PharmacyName != "" {
				s.lines[i].PharmacyName = line.PharmacyName
			}
			merged = s.lines[i]
			kind = EventLineUpdated
			found = true
			break
		}
	}
	if !found {
		s.lines = append(s.lines, line)
	}
	ev := Event{Kind: kind, PharmacyID: line.PharmacyID, LineID: line.ID, ItemCount: itemCount(s.lines)}
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.publish(listeners, ev)
	return merged, nil
}

func (s *Store) UpdateQuantity(lineID string, quantity int) error {
	if quantity < 1 {
		return domain.ErrInvalidQuantity
	}
	s.mu.Lock()
	idx := s.indexLocked(lineID)
	if idx < 0 {
		s.mu.Unlock()
		return ErrLineNotFound
	}
	s.lines[idx].Quantity = quantity
	ev := Event{Kind: EventLineUpdated, PharmacyID: s.lines[idx].PharmacyID, LineID: lineID, ItemCount: itemCount(s.lines)}
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.publish(listeners, ev)
	return nil
}

func (s *Store) RemoveLine(lineID string) error {
	s.mu.Lock()
	idx := s.indexLocked(lineID)
	if idx < 0 {
		s.mu.Unlock()
		return ErrLineNotFound
	}
	pharmacyID := s.lines[idx].PharmacyID
	s.lines = append(s.lines[:idx:idx], s.lines[idx+1:]...)
	ev := Event{Kind: EventLineRemoved, PharmacyID: pharmacyID, LineID: lineID, ItemCount: itemCount(s.lines)}
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.publish(listeners, ev)
	return nil
}

// ClearPharmacy drops every line of one pharmacy and leaves the others untouched.
// It returns the number of removed lines.
func (s *Store) ClearPharmacy(pharmacyID int64) int {
	s.mu.Lock()
	kept := make([]domain.CartLine, 0, len(s.lines))
	for _, l := range s.lines {
		if l.PharmacyID != pharmacyID {
			kept = append(kept, l)
		}
	}
	removed := len(s.lines) - len(kept)
	s.lines = kept
	ev := Event{Kind: EventPharmacyCleared, PharmacyID: pharmacyID, ItemCount: itemCount(s.lines)}
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.publish(listeners, ev)
	return removed
}

// Replace swaps the whole content, used after a successful backend refresh.
func (s *Store) Replace(lines []domain.CartLine) {
	cp := make([]domain.CartLine, 0, len(lines))
	for _, l := range lines {
		l.ID = domain.LineID(l.PharmacyID, l.MedicineID)
		cp = append(cp, l)
	}

	s.mu.Lock()
	s.lines = cp
	s.loaded = true
	ev := Event{Kind: EventReplaced, ItemCount: itemCount(s.lines)}
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.publish(listeners, ev)
}

// Snapshot returns a copy of all lines in insertion order.
func (s *Store) Snapshot() []domain.CartLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CartLine, len(s.lines))
	copy(out, s.lines)
	return out
}

// Line returns a copy of one line.
func (s *Store) Line(lineID string) (domain.CartLine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(lineID)
	if idx < 0 {
		return domain.CartLine{}, false
	}
	return s.lines[idx], true
}

// Loaded reports whether the store has been filled from the backend or cache at least once.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Subscribe registers a cart-changed listener. Listeners run synchronously after the
// mutation is applied and must not block. The returned func unsubscribes.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) indexLocked(lineID string) int {
	for i := range s.lines {
		if s.lines[i].ID == lineID {
			return i
		}
	}
	return -1
}

func (s *Store) listenersLocked() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func (s *Store) publish(listeners []Listener, ev Event) {
	for _, l := range listeners {
		s.deliver(l, ev)
	}
}

// deliver isolates listeners from each other: a panicking listener does not stop the rest.
func (s *Store) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cart listener panicked",
				zap.Any("panic", r),
				zap.String("event", string(ev.Kind)),
				zap.Int64("pharmacy_id", ev.PharmacyID),
				zap.Stack("stack"))
		}
	}()
	l(ev)
}

func itemCount(lines []domain.CartLine) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}
