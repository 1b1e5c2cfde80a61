package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/sapphirefountains/calsync_backend/config"
	"gorm.io/gorm"
)

// RecordSnapshot stores the watch-list field values seen at the last
// successful reconciliation, so the change detector can tell a semantic edit
// from a format-only re-save.
type RecordSnapshot struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	RecordType string    `gorm:"uniqueIndex:idx_record_snapshot,priority:1;size:50;not null" json:"record_type"`
	RecordId   string    `gorm:"uniqueIndex:idx_record_snapshot,priority:2;size:128;not null" json:"record_id"`
	FieldsJSON []byte    `gorm:"type:json" json:"fields"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetRecordSnapshot returns the stored field map, or found=false for a record
// never reconciled before.
func GetRecordSnapshot(ctx context.Context, recordType string, recordId string) (map[string]string, bool, error) {
	var snap RecordSnapshot
	err := config.GetDB().WithContext(ctx).
		Where("record_type = ? AND record_id = ?", recordType, recordId).
		Take(&snap).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	fields := map[string]string{}
	if len(snap.FieldsJSON) > 0 {
		if err := json.Unmarshal(snap.FieldsJSON, &fields); err != nil {
			// A corrupt snapshot must not block syncing; treat as absent.
			return nil, false, nil
		}
	}
	return fields, true, nil
}

func SaveRecordSnapshot(ctx context.Context, recordType string, recordId string, fields map[string]string) error {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	db := config.GetDB().WithContext(ctx)
	var snap RecordSnapshot
	err = db.Where("record_type = ? AND record_id = ?", recordType, recordId).Take(&snap).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			snap = RecordSnapshot{
				RecordType: recordType,
				RecordId:   recordId,
				FieldsJSON: fieldsJSON,
			}
			return db.Create(&snap).Error
		}
		return err
	}
	return db.Model(&snap).Update("fields_json", fieldsJSON).Error
}

func DeleteRecordSnapshot(ctx context.Context, recordType string, recordId string) error {
	return config.GetDB().WithContext(ctx).
		Where("record_type = ? AND record_id = ?", recordType, recordId).
		Delete(&RecordSnapshot{}).Error
}
