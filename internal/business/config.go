// Package business holds the per-business scheduling settings: timezone,
// opening hours, slot granularity, buffer, lead time and advance percentage.
package business

import (
	"fmt"
	"time"
)

// DayHours represents the opening hours for a single day.
// Nil means the business is closed that day.
type DayHours struct {
	Open  string `json:"open"`  // "09:00" in 24-hour format
	Close string `json:"close"` // "18:00" in 24-hour format
}

// BusinessHours maps day names to their hours.
type BusinessHours struct {
	Monday    *DayHours `json:"monday,omitempty"`
	Tuesday   *DayHours `json:"tuesday,omitempty"`
	Wednesday *DayHours `json:"wednesday,omitempty"`
	Thursday  *DayHours `json:"thursday,omitempty"`
	Friday    *DayHours `json:"friday,omitempty"`
	Saturday  *DayHours `json:"saturday,omitempty"`
	Sunday    *DayHours `json:"sunday,omitempty"`
}

// Config is the scheduling policy of one business.
type Config struct {
	BusinessID    string        `json:"business_id"`
	Name          string        `json:"name"`
	Timezone      string        `json:"timezone"`
	BusinessHours BusinessHours `json:"business_hours"`

	SlotGranularityMinutes int `json:"slot_granularity_minutes"`
	BufferMinutes          int `json:"buffer_minutes"`
	MinLeadMinutes         int `json:"min_lead_minutes"`
	// AdvancePercent of the total price is charged up front for services
	// that require it.
	AdvancePercent int `json:"advance_percent"`
	// ClosedMarker is matched against all-day events on CalendarID to detect holidays.
	ClosedMarker  string `json:"closed_marker"`
	CalendarID    string `json:"calendar_id,omitempty"`
	MaxCandidates int    `json:"max_candidates"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig(businessID string) *Config {
	return &Config{
		BusinessID: businessID,
		Name:       "Salon",
		Timezone:   "Europe/Madrid",
		BusinessHours: BusinessHours{
			Monday:    nil, // Closed
			Tuesday:   &DayHours{Open: "10:00", Close: "20:00"},
			Wednesday: &DayHours{Open: "10:00", Close: "20:00"},
			Thursday:  &DayHours{Open: "10:00", Close: "20:00"},
			Friday:    &DayHours{Open: "10:00", Close: "20:00"},
			Saturday:  &DayHours{Open: "10:00", Close: "14:00"},
			Sunday:    nil, // Closed
		},
		SlotGranularityMinutes: 30,
		BufferMinutes:          10,
		MinLeadMinutes:         60,
		AdvancePercent:         20,
		ClosedMarker:           "CLOSED",
		MaxCandidates:          10,
	}
}

// Location returns the business timezone, falling back to UTC when the name
// does not resolve.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) Granularity() time.Duration {
	if c.SlotGranularityMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.SlotGranularityMinutes) * time.Minute
}

func (c *Config) Buffer() time.Duration {
	return time.Duration(c.BufferMinutes) * time.Minute
}

func (c *Config) MinLead() time.Duration {
	return time.Duration(c.MinLeadMinutes) * time.Minute
}

// GetHoursForDay returns the hours for a given weekday (0=Sunday, 6=Saturday).
func (b *BusinessHours) GetHoursForDay(weekday time.Weekday) *DayHours {
	switch weekday {
	case time.Sunday:
		return b.Sunday
	case time.Monday:
		return b.Monday
	case time.Tuesday:
		return b.Tuesday
	case time.Wednesday:
		return b.Wednesday
	case time.Thursday:
		return b.Thursday
	case time.Friday:
		return b.Friday
	case time.Saturday:
		return b.Saturday
	default:
		return nil
	}
}

// HoursOn returns the opening and closing instants for the calendar day of
// day in the business timezone. ok is false when the business is closed.
func (c *Config) HoursOn(day time.Time) (opens, closes time.Time, ok bool) {
	loc := c.Location()
	local := day.In(loc)
	hours := c.BusinessHours.GetHoursForDay(local.Weekday())
	if hours == nil {
		return time.Time{}, time.Time{}, false
	}
	openClock, err := time.Parse("15:04", hours.Open)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	closeClock, err := time.Parse("15:04", hours.Close)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	y, m, d := local.Date()
	opens = time.Date(y, m, d, openClock.Hour(), openClock.Minute(), 0, 0, loc)
	closes = time.Date(y, m, d, closeClock.Hour(), closeClock.Minute(), 0, 0, loc)
	if !closes.After(opens) {
		return time.Time{}, time.Time{}, false
	}
	return opens, closes, true
}

// IsOpenAt checks if the business is open at the given time.
func (c *Config) IsOpenAt(t time.Time) bool {
	opens, closes, ok := c.HoursOn(t)
	if !ok {
		return false
	}
	return !t.Before(opens) && t.Before(closes)
}

// Fits reports whether [start, start+d) lies entirely within opening hours.
func (c *Config) Fits(start time.Time, d time.Duration) bool {
	opens, closes, ok := c.HoursOn(start)
	if !ok {
		return false
	}
	return !start.Before(opens) && !start.Add(d).After(closes)
}

// StartOfDay is local midnight of t's calendar day in the business timezone.
func (c *Config) StartOfDay(t time.Time) time.Time {
	local := t.In(c.Location())
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, local.Location())
}

// SameDay reports whether a and b fall on the same local calendar day.
func (c *Config) SameDay(a, b time.Time) bool {
	return c.StartOfDay(a).Equal(c.StartOfDay(b))
}

// Validate checks the settings that the scheduler depends on.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("business: invalid timezone %q: %w", c.Timezone, err)
	}
	if c.SlotGranularityMinutes <= 0 {
		return fmt.Errorf("business: slot granularity must be positive")
	}
	if c.BufferMinutes < 0 || c.MinLeadMinutes < 0 {
		return fmt.Errorf("business: buffer and lead time must not be negative")
	}
	if c.AdvancePercent < 0 || c.AdvancePercent > 100 {
		return fmt.Errorf("business: advance percent must be between 0 and 100")
	}
	for _, wd := range []time.Weekday{time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday} {
		h := c.BusinessHours.GetHoursForDay(wd)
		if h == nil {
			continue
		}
		opens, err := time.Parse("15:04", h.Open)
		if err != nil {
			return fmt.Errorf("business: %s open time: %w", wd, err)
		}
		closes, err := time.Parse("15:04", h.Close)
		if err != nil {
			return fmt.Errorf("business: %s close time: %w", wd, err)
		}
		if !closes.After(opens) {
			return fmt.Errorf("business: %s closes before it opens", wd)
		}
	}
	return nil
}
