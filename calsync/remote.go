package calsync

import (
	"context"
	"errors"
	"net/http"
	"time"

	"bitbucket.org/sapphirefountains/calsync_backend/config"
	"bitbucket.org/sapphirefountains/calsync_backend/models"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

// ErrRemoteGone signals the remote event no longer exists (404/410). It is
// not a failure: on patch it drives the recreate path, on delete it counts as
// success.
var ErrRemoteGone = errors.New("remote event gone")

const remoteCallTimeout = 30 * time.Second

// googleEventClient performs create/patch/delete against the Google Calendar
// API. Each call is scoped to one target calendar and carries that calendar's
// credential.
type googleEventClient struct{}

func NewGoogleEventClient() EventAPI {
	return googleEventClient{}
}

func (googleEventClient) Create(ctx context.Context, cal models.TargetCalendar, payload SyncPayload) (string, error) {
	svc, err := config.GetCalendarService(ctx, cal.CredentialsJSON)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, remoteCallTimeout)
	defer cancel()

	created, err := svc.Events.Insert(cal.CalendarId, buildRemoteEvent(payload)).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

func (googleEventClient) Patch(ctx context.Context, cal models.TargetCalendar, eventId string, payload SyncPayload) error {
	svc, err := config.GetCalendarService(ctx, cal.CredentialsJSON)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, remoteCallTimeout)
	defer cancel()

	_, err = svc.Events.Patch(cal.CalendarId, eventId, buildRemoteEvent(payload)).Context(ctx).Do()
	return translateRemoteGone(err)
}

func (googleEventClient) Delete(ctx context.Context, cal models.TargetCalendar, eventId string) error {
	svc, err := config.GetCalendarService(ctx, cal.CredentialsJSON)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, remoteCallTimeout)
	defer cancel()

	err = svc.Events.Delete(cal.CalendarId, eventId).Context(ctx).Do()
	return translateRemoteGone(err)
}

// buildRemoteEvent sets the event fields verbatim from the payload, including
// the caller-supplied timezone name.
func buildRemoteEvent(payload SyncPayload) *calendar.Event {
	tz := payload.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	return &calendar.Event{
		Summary:     payload.Title,
		Description: payload.Description,
		Location:    payload.Location,
		Start: &calendar.EventDateTime{
			DateTime: payload.Start.Format(time.RFC3339),
			TimeZone: tz,
		},
		End: &calendar.EventDateTime{
			DateTime: payload.End.Format(time.RFC3339),
			TimeZone: tz,
		},
	}
}

func translateRemoteGone(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone {
			return ErrRemoteGone
		}
	}
	return err
}
