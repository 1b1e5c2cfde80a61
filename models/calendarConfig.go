package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/sapphirefountains/calsync_backend/config"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// TargetCalendar is one remote calendar events can be pushed to. Owner is set
// for personal calendars scoped to a single user; shared calendars leave it
// empty. CredentialsJSON holds the service-account key used against the
// remote API for this calendar.
type TargetCalendar struct {
	ID              uint      `gorm:"primary_key" json:"id"`
	CalendarId      string    `gorm:"uniqueIndex;size:128;not null" json:"calendar_id" validate:"required"`
	Owner           string    `gorm:"index;size:128" json:"owner"`
	Enabled         bool      `gorm:"default:true" json:"enabled"`
	TimeZone        string    `gorm:"size:64" json:"time_zone"`
	CredentialsJSON string    `gorm:"type:text" json:"-"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// RecordTypeCalendarMap routes a record type to a configured calendar.
// A type may map to several calendars and vice versa.
type RecordTypeCalendarMap struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	RecordType string    `gorm:"uniqueIndex:idx_type_calendar,priority:1;size:50;not null" json:"record_type" validate:"required"`
	CalendarId string    `gorm:"uniqueIndex:idx_type_calendar,priority:2;size:128;not null" json:"calendar_id" validate:"required"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

var calendarValidate = validator.New()

const calendarCacheExpiry = 5 * time.Minute

// ListMappedCalendars returns the enabled calendars configured for a record
// type. Results are cached in redis; SaveTargetCalendar invalidates.
func ListMappedCalendars(ctx context.Context, recordType string) ([]TargetCalendar, error) {
	cacheKey := "CalendarMap:" + recordType
	var cached []TargetCalendar
	if ok, err := config.GetRedisObject(cacheKey, &cached); err == nil && ok {
		return cached, nil
	}

	var calendars []TargetCalendar
	err := config.GetDB().WithContext(ctx).
		Joins("JOIN record_type_calendar_maps ON record_type_calendar_maps.calendar_id = target_calendars.calendar_id").
		Where("record_type_calendar_maps.record_type = ? AND target_calendars.enabled = ?", recordType, true).
		Find(&calendars).Error
	if err != nil {
		return nil, err
	}

	_ = config.SetRedisObject(cacheKey, calendars, calendarCacheExpiry)
	return calendars, nil
}

// FindPersonalCalendar returns the owner's enabled personal calendar, or nil
// when the owner has none configured.
func FindPersonalCalendar(ctx context.Context, owner string) (*TargetCalendar, error) {
	if owner == "" {
		return nil, nil
	}

	cacheKey := "PersonalCalendar:" + owner
	var cached TargetCalendar
	if ok, err := config.GetRedisObject(cacheKey, &cached); err == nil && ok {
		return &cached, nil
	}

	var cal TargetCalendar
	err := config.GetDB().WithContext(ctx).
		Where("owner = ? AND enabled = ?", owner, true).
		Take(&cal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	_ = config.SetRedisObject(cacheKey, cal, calendarCacheExpiry)
	return &cal, nil
}

func FindTargetCalendar(ctx context.Context, calendarId string) (*TargetCalendar, error) {
	var cal TargetCalendar
	err := config.GetDB().WithContext(ctx).
		Where("calendar_id = ?", calendarId).
		Take(&cal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cal, nil
}

// SaveTargetCalendar inserts or updates a calendar row and drops the affected
// cache entries.
func SaveTargetCalendar(ctx context.Context, cal *TargetCalendar) error {
	if err := calendarValidate.Struct(cal); err != nil {
		return err
	}

	db := config.GetDB().WithContext(ctx)
	var existing TargetCalendar
	err := db.Where("calendar_id = ?", cal.CalendarId).Take(&existing).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Create(cal).Error; err != nil {
			return err
		}
	} else {
		cal.ID = existing.ID
		if err := db.Model(&existing).Updates(map[string]interface{}{
			"owner":            cal.Owner,
			"enabled":          cal.Enabled,
			"time_zone":        cal.TimeZone,
			"credentials_json": cal.CredentialsJSON,
		}).Error; err != nil {
			return err
		}
	}

	invalidateCalendarCaches(cal.Owner)
	return nil
}

// SaveCalendarMapping adds a record_type -> calendar route.
func SaveCalendarMapping(ctx context.Context, mapping *RecordTypeCalendarMap) error {
	if err := calendarValidate.Struct(mapping); err != nil {
		return err
	}

	db := config.GetDB().WithContext(ctx)
	var existing RecordTypeCalendarMap
	err := db.Where("record_type = ? AND calendar_id = ?", mapping.RecordType, mapping.CalendarId).
		Take(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err := db.Create(mapping).Error; err != nil {
		return err
	}

	_ = config.RemoveRedisKey("CalendarMap:" + mapping.RecordType)
	return nil
}

func invalidateCalendarCaches(owner string) {
	keys := []string{
		"CalendarMap:task",
		"CalendarMap:todo",
		"CalendarMap:project",
		"CalendarMap:event",
	}
	if owner != "" {
		keys = append(keys, "PersonalCalendar:"+owner)
	}
	_ = config.RemoveRedisKey(keys...)
}
