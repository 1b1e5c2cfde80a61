package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/sapphirefountains/calsync_backend/config"
	"bitbucket.org/sapphirefountains/calsync_backend/utils"
	"gorm.io/gorm"
)

// Record is the engine's view of a document-store row. The store itself
// (validation, permissions, the full field set) lives elsewhere; the sync
// engine only reads named fields and status, and writes back the one legacy
// field it owns.
type Record struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	RecordType string    `gorm:"uniqueIndex:idx_record,priority:1;size:50;not null" json:"record_type"`
	RecordId   string    `gorm:"uniqueIndex:idx_record,priority:2;size:128;not null" json:"record_id"`
	Status     string    `gorm:"size:50" json:"status"`
	Owner      string    `gorm:"size:128" json:"owner"`
	FieldsJSON []byte    `gorm:"type:json" json:"fields"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// DocumentStore adapts the records table to the narrow field-accessor surface
// the sync engine consumes.
type DocumentStore struct{}

func (DocumentStore) findRecord(ctx context.Context, recordType string, recordId string) (*Record, error) {
	var rec Record
	err := config.GetDB().WithContext(ctx).
		Where("record_type = ? AND record_id = ?", recordType, recordId).
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ReadFields returns the requested fields as strings. Missing fields come back
// as empty strings rather than errors; the projector's fallback chains decide
// what that means.
func (s DocumentStore) ReadFields(ctx context.Context, recordType string, recordId string, fieldNames []string) (map[string]string, error) {
	rec, err := s.findRecord(ctx, recordType, recordId)
	if err != nil {
		return nil, err
	}

	stored := map[string]any{}
	if len(rec.FieldsJSON) > 0 {
		if err := json.Unmarshal(rec.FieldsJSON, &stored); err != nil {
			return nil, err
		}
	}

	out := make(map[string]string, len(fieldNames))
	for _, name := range fieldNames {
		switch name {
		case "status":
			out[name] = rec.Status
		case "owner":
			out[name] = rec.Owner
		default:
			out[name] = stringifyFieldValue(stored[name])
		}
	}
	return out, nil
}

func (s DocumentStore) ReadStatus(ctx context.Context, recordType string, recordId string) (string, error) {
	rec, err := s.findRecord(ctx, recordType, recordId)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

func (s DocumentStore) ReadOwner(ctx context.Context, recordType string, recordId string) (string, error) {
	rec, err := s.findRecord(ctx, recordType, recordId)
	if err != nil {
		return "", err
	}
	return rec.Owner, nil
}

// SetField writes one named field back. Only used to clear the legacy
// single-event-id field.
func (s DocumentStore) SetField(ctx context.Context, recordType string, recordId string, fieldName string, value string) error {
	rec, err := s.findRecord(ctx, recordType, recordId)
	if err != nil {
		return err
	}

	stored := map[string]any{}
	if len(rec.FieldsJSON) > 0 {
		if err := json.Unmarshal(rec.FieldsJSON, &stored); err != nil {
			return err
		}
	}
	stored[fieldName] = value

	fieldsJSON, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return config.GetDB().WithContext(ctx).
		Model(rec).
		Update("fields_json", fieldsJSON).Error
}

func stringifyFieldValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		// json numbers; integral values print without the decimal point
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", val)
	}
}
