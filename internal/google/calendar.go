package google

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mcastell/convo/internal/schedule"
)

// CalendarClient implements the calendar collaborator against the Google
// Calendar v3 API. All calls target the account's primary calendar.
type CalendarClient struct {
	*client
	baseURL string
	zone    *time.Location
	now     func() time.Time
}

func NewCalendarClient(tokens TokenSource, zone *time.Location) *CalendarClient {
	return &CalendarClient{
		client:  newClient(tokens, 0),
		baseURL: calendarBaseURL,
		zone:    zone,
		now:     time.Now,
	}
}

type calendarEventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type calendarEvent struct {
	ID          string            `json:"id,omitempty"`
	Summary     string            `json:"summary,omitempty"`
	Description string            `json:"description,omitempty"`
	Start       calendarEventTime `json:"start"`
	End         calendarEventTime `json:"end"`
}

type calendarEventList struct {
	Items         []calendarEvent `json:"items"`
	NextPageToken string          `json:"nextPageToken"`
}

// ListEvents returns the upcoming bookings from now on, expanded to single
// events and ordered by start time. Pagination is followed to the end.
func (c *CalendarClient) ListEvents(ctx context.Context, businessID string) ([]schedule.Event, error) {
	var out []schedule.Event
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("timeMin", c.now().Format(time.RFC3339))
		q.Set("singleEvents", "true")
		q.Set("orderBy", "startTime")
		q.Set("maxResults", "250")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page calendarEventList
		endpoint := fmt.Sprintf("%s/calendars/primary/events?%s", c.baseURL, q.Encode())
		if err := c.do(ctx, businessID, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}

		for _, item := range page.Items {
			ev, ok := c.toEvent(item)
			if !ok {
				continue // all-day or malformed entries carry no dateTime
			}
			out = append(out, ev)
		}

		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

// CreateEvent inserts a booking and returns the new event ID.
func (c *CalendarClient) CreateEvent(ctx context.Context, businessID string, ev schedule.Event) (string, error) {
	body := calendarEvent{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       calendarEventTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: c.zoneName()},
		End:         calendarEventTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: c.zoneName()},
	}

	var created calendarEvent
	endpoint := c.baseURL + "/calendars/primary/events"
	if err := c.do(ctx, businessID, http.MethodPost, endpoint, body, &created); err != nil {
		return "", fmt.Errorf("create event: %w", err)
	}
	return created.ID, nil
}

// DeleteEvent removes a booking by ID.
func (c *CalendarClient) DeleteEvent(ctx context.Context, businessID, eventID string) error {
	endpoint := fmt.Sprintf("%s/calendars/primary/events/%s", c.baseURL, url.PathEscape(eventID))
	if err := c.do(ctx, businessID, http.MethodDelete, endpoint, nil, nil); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

func (c *CalendarClient) toEvent(item calendarEvent) (schedule.Event, bool) {
	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return schedule.Event{}, false
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		return schedule.Event{}, false
	}
	return schedule.Event{
		ID:          item.ID,
		Summary:     item.Summary,
		Description: item.Description,
		Start:       start,
		End:         end,
	}, true
}

func (c *CalendarClient) zoneName() string {
	if c.zone == nil {
		return "UTC"
	}
	return c.zone.String()
}
