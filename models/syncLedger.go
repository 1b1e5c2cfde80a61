package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/sapphirefountains/calsync_backend/config"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// SyncLedgerEntry maps one (record, target calendar) pair to the remote event
// created for it. At most one row exists per triple; the remote event id is
// unique within a calendar because the remote API treats it as a key.
type SyncLedgerEntry struct {
	ID            uint      `gorm:"primary_key" json:"id"`
	RecordType    string    `gorm:"uniqueIndex:idx_sync_ledger,priority:1;size:50;not null" json:"record_type"`
	RecordId      string    `gorm:"uniqueIndex:idx_sync_ledger,priority:2;size:128;not null" json:"record_id"`
	CalendarId    string    `gorm:"uniqueIndex:idx_sync_ledger,priority:3;size:128;not null" json:"calendar_id"`
	RemoteEventId string    `gorm:"size:128" json:"remote_event_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// FindLedgerEntry returns the remote event id tracked for the triple, or
// found=false when the pair has never been synced to that calendar.
func FindLedgerEntry(ctx context.Context, recordType string, recordId string, calendarId string) (string, bool, error) {
	var entry SyncLedgerEntry
	err := config.GetDB().WithContext(ctx).
		Where("record_type = ? AND record_id = ? AND calendar_id = ?", recordType, recordId, calendarId).
		Take(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return entry.RemoteEventId, true, nil
}

// UpsertLedgerEntry records the remote event id for the triple, replacing a
// stale id in place after a recreate.
func UpsertLedgerEntry(ctx context.Context, recordType string, recordId string, calendarId string, remoteEventId string) error {
	db := config.GetDB().WithContext(ctx)

	var entry SyncLedgerEntry
	err := db.Where("record_type = ? AND record_id = ? AND calendar_id = ?", recordType, recordId, calendarId).
		Take(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			entry = SyncLedgerEntry{
				RecordType:    recordType,
				RecordId:      recordId,
				CalendarId:    calendarId,
				RemoteEventId: remoteEventId,
			}
			createErr := db.Create(&entry).Error
			if isDuplicateKeyErr(createErr) {
				// Lost a race with a concurrent worker; fall through to an
				// update against the winner's row.
				return db.Model(&SyncLedgerEntry{}).
					Where("record_type = ? AND record_id = ? AND calendar_id = ?", recordType, recordId, calendarId).
					Update("remote_event_id", remoteEventId).Error
			}
			return createErr
		}
		return err
	}

	if entry.RemoteEventId == remoteEventId {
		return nil
	}
	return db.Model(&entry).Update("remote_event_id", remoteEventId).Error
}

func DeleteLedgerEntry(ctx context.Context, recordType string, recordId string, calendarId string) error {
	return config.GetDB().WithContext(ctx).
		Where("record_type = ? AND record_id = ? AND calendar_id = ?", recordType, recordId, calendarId).
		Delete(&SyncLedgerEntry{}).Error
}

// ListLedgerEntriesForRecord returns every calendar the record is tracked in.
func ListLedgerEntriesForRecord(ctx context.Context, recordType string, recordId string) ([]SyncLedgerEntry, error) {
	var entries []SyncLedgerEntry
	err := config.GetDB().WithContext(ctx).
		Where("record_type = ? AND record_id = ?", recordType, recordId).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ListRecordsWithLedgerEntries returns the distinct (record_type, record_id)
// pairs present in the ledger. Used by the manual sweep.
func ListRecordsWithLedgerEntries(ctx context.Context, limit int) ([]SyncLedgerEntry, error) {
	var refs []SyncLedgerEntry
	q := config.GetDB().WithContext(ctx).
		Model(&SyncLedgerEntry{}).
		Distinct("record_type", "record_id").
		Order("record_type, record_id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&refs).Error; err != nil {
		return nil, err
	}
	return refs, nil
}
