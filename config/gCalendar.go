package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

var (
	calendarServices   = map[string]*calendar.Service{}
	calendarServicesMu sync.Mutex
)

// GetCalendarService returns a Google Calendar API service for the given
// credential JSON, caching one service per credential. An empty credential
// falls back to Application Default Credentials.
func GetCalendarService(ctx context.Context, credentialsJSON string) (*calendar.Service, error) {
	key := credentialCacheKey(credentialsJSON)

	calendarServicesMu.Lock()
	if svc, ok := calendarServices[key]; ok {
		calendarServicesMu.Unlock()
		return svc, nil
	}
	calendarServicesMu.Unlock()

	opts := []option.ClientOption{option.WithScopes(calendar.CalendarEventsScope)}
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}

	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, errors.New("calendar service is nil")
	}

	calendarServicesMu.Lock()
	if existing, ok := calendarServices[key]; ok {
		// Another goroutine won the race; use theirs.
		svc = existing
	} else {
		calendarServices[key] = svc
	}
	calendarServicesMu.Unlock()

	return svc, nil
}

func credentialCacheKey(credentialsJSON string) string {
	if credentialsJSON == "" {
		return "adc"
	}
	sum := sha256.Sum256([]byte(credentialsJSON))
	return hex.EncodeToString(sum[:])
}
