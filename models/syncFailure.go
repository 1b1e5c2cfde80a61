package models

import (
	"context"
	"time"

	"bitbucket.org/sapphirefountains/calsync_backend/config"
)

const (
	SyncErrorCodeRemote        = "remote_failed"
	SyncErrorCodeConfiguration = "configuration"
	SyncErrorCodePayload       = "invalid_payload"
	SyncErrorCodeLedgerWrite   = "ledger_write_failed"
)

// SyncFailure is the operator-visible record of a reconciliation error.
// Nothing propagates to the caller that mutated the record, so this table and
// the logs are the only failure surface.
type SyncFailure struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	RecordType string    `gorm:"index:idx_sync_failure_record;size:50;not null" json:"record_type"`
	RecordId   string    `gorm:"index:idx_sync_failure_record;size:128;not null" json:"record_id"`
	CalendarId string    `gorm:"size:128" json:"calendar_id"`
	ErrorCode  string    `gorm:"size:64" json:"error_code"`
	Message    string    `gorm:"type:text" json:"message"`
	Retryable  bool      `gorm:"default:false" json:"retryable"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func CreateSyncFailure(ctx context.Context, failure *SyncFailure) error {
	return config.GetDB().WithContext(ctx).Create(failure).Error
}

func ListSyncFailuresForRecord(ctx context.Context, recordType string, recordId string, limit int) ([]SyncFailure, error) {
	var failures []SyncFailure
	q := config.GetDB().WithContext(ctx).
		Where("record_type = ? AND record_id = ?", recordType, recordId).
		Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&failures).Error; err != nil {
		return nil, err
	}
	return failures, nil
}

func ListRecentSyncFailures(ctx context.Context, limit int) ([]SyncFailure, error) {
	var failures []SyncFailure
	q := config.GetDB().WithContext(ctx).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&failures).Error; err != nil {
		return nil, err
	}
	return failures, nil
}
