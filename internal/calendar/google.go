package calendar

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// ProviderEvent is one event as read from the provider calendar.
type ProviderEvent struct {
	ID           string
	Summary      string
	PatientPhone string
	StartAt      time.Time
	EndAt        time.Time
	Cancelled    bool
}

// EventSource reads upcoming events from a user's provider calendar.
type EventSource interface {
	ListUpcoming(ctx context.Context, accessToken string, window time.Duration) ([]ProviderEvent, error)
}

// GoogleCalendar reads the user's primary Google calendar. A fresh service
// is built per call because each user brings their own access token.
type GoogleCalendar struct{}

func NewGoogleCalendar() *GoogleCalendar {
	return &GoogleCalendar{}
}

// patientPhoneKey is the extended property our booking flow stamps onto
// events so the reminder pipeline knows who to message.
const patientPhoneKey = "patient_phone"

func (g *GoogleCalendar) ListUpcoming(ctx context.Context, accessToken string, window time.Duration) ([]ProviderEvent, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	svc, err := gcal.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("calendar: create google service: %w", err)
	}

	now := time.Now().UTC()
	call := svc.Events.List("primary").
		TimeMin(now.Format(time.RFC3339)).
		TimeMax(now.Add(window).Format(time.RFC3339)).
		SingleEvents(true).
		ShowDeleted(true).
		OrderBy("startTime").
		MaxResults(250)

	var out []ProviderEvent
	err = call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			ev, ok := fromGoogleEvent(item)
			if !ok {
				continue
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("calendar: list google events: %w", err)
	}
	return out, nil
}

// fromGoogleEvent converts one API item. All-day events (date without time)
// are not appointments and are skipped.
func fromGoogleEvent(item *gcal.Event) (ProviderEvent, bool) {
	ev := ProviderEvent{
		ID:        item.Id,
		Summary:   item.Summary,
		Cancelled: item.Status == "cancelled",
	}
	if item.ExtendedProperties != nil {
		ev.PatientPhone = item.ExtendedProperties.Private[patientPhoneKey]
	}
	if ev.Cancelled {
		// Cancelled items may arrive without times; the id is enough.
		return ev, true
	}
	if item.Start == nil || item.Start.DateTime == "" || item.End == nil || item.End.DateTime == "" {
		return ProviderEvent{}, false
	}
	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return ProviderEvent{}, false
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		return ProviderEvent{}, false
	}
	ev.StartAt = start.UTC()
	ev.EndAt = end.UTC()
	return ev, true
}
