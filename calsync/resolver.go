package calsync

import (
	"context"

	"bitbucket.org/sapphirefountains/calsync_backend/models"
)

// calendarResolver produces the target-calendar set for a (record type,
// owner) pair: every enabled mapping-table calendar for the type, plus the
// owner's enabled personal calendar. Purely a configuration lookup; loader
// functions are injectable for tests.
type calendarResolver struct {
	listMapped   func(ctx context.Context, recordType string) ([]models.TargetCalendar, error)
	findPersonal func(ctx context.Context, owner string) (*models.TargetCalendar, error)
}

func NewCalendarResolver() CalendarSource {
	return &calendarResolver{
		listMapped:   models.ListMappedCalendars,
		findPersonal: models.FindPersonalCalendar,
	}
}

// Resolve returns the de-duplicated set, keyed by calendar identifier. Callers
// must not rely on ordering. Unsupported record types resolve to an empty set
// and never reach the reconciler.
func (r *calendarResolver) Resolve(ctx context.Context, recordType string, owner string) ([]models.TargetCalendar, error) {
	if !IsSupportedRecordType(recordType) {
		return nil, nil
	}

	mapped, err := r.listMapped(ctx, recordType)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(mapped)+1)
	result := make([]models.TargetCalendar, 0, len(mapped)+1)
	for _, cal := range mapped {
		if !cal.Enabled || seen[cal.CalendarId] {
			continue
		}
		seen[cal.CalendarId] = true
		result = append(result, cal)
	}

	personal, err := r.findPersonal(ctx, owner)
	if err != nil {
		return nil, err
	}
	if personal != nil && personal.Enabled && !seen[personal.CalendarId] {
		result = append(result, *personal)
	}

	return result, nil
}
