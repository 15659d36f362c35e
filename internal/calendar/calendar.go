// Package calendar is the external calendar collaborator: provisional holds
// for appointments, free/busy lookups and closed-day detection.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidRef = errors.New("calendar: invalid event reference")

// Hold describes the provisional event created for an appointment.
type Hold struct {
	AppointmentID uuid.UUID
	CalendarID    string
	Start         time.Time
	End           time.Time
	Label         string
	Description   string
}

// Interval is a half-open busy period [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Overlaps(start, end time.Time) bool {
	return i.Start.Before(end) && start.Before(i.End)
}

// Calendar is implemented by Google and Memory.
type Calendar interface {
	// CreateHold creates a provisional event and returns its reference.
	// Calling it again for the same appointment returns the same reference.
	CreateHold(ctx context.Context, h Hold) (string, error)
	MarkConfirmed(ctx context.Context, ref string) error
	// Delete removes the event. Deleting a missing event is not an error.
	Delete(ctx context.Context, ref string) error
	Busy(ctx context.Context, calendarID string, from, to time.Time) ([]Interval, error)
	// IsClosed reports whether the business calendar marks [dayStart, dayEnd) as closed.
	IsClosed(ctx context.Context, dayStart, dayEnd time.Time, marker string) (bool, error)
}

// EventIDFor derives the event id from the appointment id. Google accepts
// lowercase hex as an event id, so retries of CreateHold collide instead of
// duplicating.
func EventIDFor(appointmentID uuid.UUID) string {
	return strings.ReplaceAll(appointmentID.String(), "-", "")
}

// FormatRef joins a calendar id and event id into a single stored reference.
func FormatRef(calendarID, eventID string) string {
	return calendarID + "#" + eventID
}

// ParseRef splits a reference produced by FormatRef. Calendar ids may
// themselves contain '#', event ids never do.
func ParseRef(ref string) (calendarID, eventID string, err error) {
	i := strings.LastIndex(ref, "#")
	if i <= 0 || i == len(ref)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return ref[:i], ref[i+1:], nil
}
