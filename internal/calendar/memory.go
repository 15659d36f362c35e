package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryEvent is an event held by Memory.
type MemoryEvent struct {
	Hold      Hold
	Confirmed bool
}

// Memory is an in-process Calendar for development and tests. The exported
// hooks inject failures per operation.
type Memory struct {
	mu     sync.Mutex
	events map[string]*MemoryEvent
	busy   map[string][]Interval
	closed map[string]bool

	CreateHook  func(h Hold) error
	ConfirmHook func(ref string) error
	DeleteHook  func(ref string) error

	ConfirmCalls int
	DeleteCalls  int
}

func NewMemory() *Memory {
	return &Memory{
		events: make(map[string]*MemoryEvent),
		busy:   make(map[string][]Interval),
		closed: make(map[string]bool),
	}
}

func (m *Memory) CreateHold(ctx context.Context, h Hold) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateHook != nil {
		if err := m.CreateHook(h); err != nil {
			return "", err
		}
	}
	ref := FormatRef(h.CalendarID, EventIDFor(h.AppointmentID))
	if _, ok := m.events[ref]; !ok {
		m.events[ref] = &MemoryEvent{Hold: h}
	}
	return ref, nil
}

func (m *Memory) MarkConfirmed(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConfirmCalls++
	if m.ConfirmHook != nil {
		if err := m.ConfirmHook(ref); err != nil {
			return err
		}
	}
	ev, ok := m.events[ref]
	if !ok {
		return fmt.Errorf("calendar: mark confirmed: event %s not found", ref)
	}
	ev.Confirmed = true
	return nil
}

func (m *Memory) Delete(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	if m.DeleteHook != nil {
		if err := m.DeleteHook(ref); err != nil {
			return err
		}
	}
	delete(m.events, ref)
	return nil
}

func (m *Memory) Busy(ctx context.Context, calendarID string, from, to time.Time) ([]Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Interval
	for _, iv := range m.busy[calendarID] {
		if iv.Overlaps(from, to) {
			out = append(out, iv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *Memory) IsClosed(ctx context.Context, dayStart, dayEnd time.Time, marker string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed[dayStart.Format(time.DateOnly)], nil
}

// AddBusy blocks [start, end) on calendarID.
func (m *Memory) AddBusy(calendarID string, start, end time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy[calendarID] = append(m.busy[calendarID], Interval{Start: start, End: end})
}

// MarkClosed flags the local calendar day of day as closed.
func (m *Memory) MarkClosed(day time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed[day.Format(time.DateOnly)] = true
}

// Event returns a copy of the event behind ref.
func (m *Memory) Event(ref string) (MemoryEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[ref]
	if !ok {
		return MemoryEvent{}, false
	}
	return *ev, true
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
