package calendar

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/wolfman30/salon-booking-engine/internal/retry"
	"github.com/wolfman30/salon-booking-engine/pkg/logging"
)

const (
	provisionalPrefix = "[PROVISIONAL] "
	// Google Calendar event colour ids.
	provisionalColor = "5"  // banana
	confirmedColor   = "10" // basil
)

// Google is the Google Calendar v3 implementation of Calendar.
type Google struct {
	svc                *gcal.Service
	businessCalendarID string
	timezone           string
	logger             *logging.Logger
}

// NewGoogle builds the adapter. businessCalendarID holds the closed-day
// markers and may be empty.
func NewGoogle(ctx context.Context, businessCalendarID, timezone string, logger *logging.Logger, opts ...option.ClientOption) (*Google, error) {
	if logger == nil {
		logger = logging.Default()
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: init google client: %w", err)
	}
	return &Google{svc: svc, businessCalendarID: businessCalendarID, timezone: timezone, logger: logger}, nil
}

func (g *Google) CreateHold(ctx context.Context, h Hold) (string, error) {
	eventID := EventIDFor(h.AppointmentID)
	ev := &gcal.Event{
		Id:          eventID,
		Summary:     provisionalPrefix + h.Label,
		Description: h.Description,
		Start:       &gcal.EventDateTime{DateTime: h.Start.Format(time.RFC3339), TimeZone: g.timezone},
		End:         &gcal.EventDateTime{DateTime: h.End.Format(time.RFC3339), TimeZone: g.timezone},
		Status:      "tentative",
		ColorId:     provisionalColor,
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{
				"appointment_id": h.AppointmentID.String(),
				"booking_state":  "provisional",
			},
		},
	}
	_, err := g.svc.Events.Insert(h.CalendarID, ev).Context(ctx).Do()
	if hasStatus(err, http.StatusConflict) {
		g.logger.Info("calendar hold already exists", "appointment_id", h.AppointmentID, "calendar_id", h.CalendarID)
		return FormatRef(h.CalendarID, eventID), nil
	}
	if err != nil {
		return "", classify(fmt.Errorf("calendar: create hold: %w", err))
	}
	return FormatRef(h.CalendarID, eventID), nil
}

func (g *Google) MarkConfirmed(ctx context.Context, ref string) error {
	calendarID, eventID, err := ParseRef(ref)
	if err != nil {
		return err
	}
	current, err := g.svc.Events.Get(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return classify(fmt.Errorf("calendar: mark confirmed: get: %w", err))
	}
	patch := &gcal.Event{
		Summary: strings.TrimPrefix(current.Summary, provisionalPrefix),
		Status:  "confirmed",
		ColorId: confirmedColor,
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{"booking_state": "confirmed"},
		},
	}
	if _, err := g.svc.Events.Patch(calendarID, eventID, patch).Context(ctx).Do(); err != nil {
		return classify(fmt.Errorf("calendar: mark confirmed: %w", err))
	}
	return nil
}

func (g *Google) Delete(ctx context.Context, ref string) error {
	calendarID, eventID, err := ParseRef(ref)
	if err != nil {
		return err
	}
	err = g.svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
	if err == nil || hasStatus(err, http.StatusNotFound) || hasStatus(err, http.StatusGone) {
		return nil
	}
	return classify(fmt.Errorf("calendar: delete: %w", err))
}

func (g *Google) Busy(ctx context.Context, calendarID string, from, to time.Time) ([]Interval, error) {
	resp, err := g.svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin:  from.Format(time.RFC3339),
		TimeMax:  to.Format(time.RFC3339),
		TimeZone: g.timezone,
		Items:    []*gcal.FreeBusyRequestItem{{Id: calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Errorf("calendar: freebusy: %w", err))
	}
	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return nil, nil
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("calendar: freebusy %s: %s", calendarID, cal.Errors[0].Reason)
	}
	out := make([]Interval, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		start, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			return nil, fmt.Errorf("calendar: freebusy start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			return nil, fmt.Errorf("calendar: freebusy end: %w", err)
		}
		out = append(out, Interval{Start: start, End: end})
	}
	return out, nil
}

func (g *Google) IsClosed(ctx context.Context, dayStart, dayEnd time.Time, marker string) (bool, error) {
	if g.businessCalendarID == "" || marker == "" {
		return false, nil
	}
	resp, err := g.svc.Events.List(g.businessCalendarID).
		TimeMin(dayStart.Format(time.RFC3339)).
		TimeMax(dayEnd.Format(time.RFC3339)).
		SingleEvents(true).
		Q(marker).
		Context(ctx).
		Do()
	if err != nil {
		return false, classify(fmt.Errorf("calendar: list closed markers: %w", err))
	}
	for _, ev := range resp.Items {
		if ev.Start == nil || ev.Start.Date == "" {
			continue
		}
		if strings.Contains(strings.ToUpper(ev.Summary), strings.ToUpper(marker)) {
			return true, nil
		}
	}
	return false, nil
}

func hasStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}

// classify marks rate limiting, server errors and network failures as transient.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500 {
			return retry.Transient(err)
		}
		return err
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return retry.Transient(err)
	}
	return err
}
