package calsync

import (
	"context"
	"time"

	"bitbucket.org/sapphirefountains/calsync_backend/models"
)

const (
	RecordTypeTask    = "task"
	RecordTypeToDo    = "todo"
	RecordTypeProject = "project"
	RecordTypeEvent   = "event"
)

const (
	ReasonUpdated = "updated"
	ReasonTrashed = "trashed"
)

// LegacyEventIdField is the deprecated single-event-id field that predates the
// multi-calendar ledger. It is consulted only as an extra deletion target and
// cleared afterwards; new creates never write it.
const LegacyEventIdField = "legacy_event_id"

// TaskOriginSyncWorker tags tasks published by the worker itself so the
// dispatcher can drop them.
const TaskOriginSyncWorker = "calsync-worker"

// SyncPayload is the event content pushed to a remote calendar. Built fresh
// per reconciliation attempt, never cached.
type SyncPayload struct {
	Start       time.Time
	End         time.Time
	TimeZone    string
	Title       string
	Description string
	Location    string
}

// SyncTaskPayload is the unit of background work. It carries only the record
// reference, never the record itself, so the worker always reads a freshly
// committed version.
type SyncTaskPayload struct {
	RecordType    string `json:"record_type"`
	RecordId      string `json:"record_id"`
	Reason        string `json:"reason"`
	Origin        string `json:"origin"`
	CorrelationId string `json:"correlation_id"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// RecordStore is the document-store collaborator. The engine reads named
// fields and status off records and writes back exactly one field (the legacy
// event id, to clear it).
type RecordStore interface {
	ReadFields(ctx context.Context, recordType string, recordId string, fieldNames []string) (map[string]string, error)
	ReadStatus(ctx context.Context, recordType string, recordId string) (string, error)
	ReadOwner(ctx context.Context, recordType string, recordId string) (string, error)
	SetField(ctx context.Context, recordType string, recordId string, fieldName string, value string) error
}

// Ledger is the sync-state store mapping (record, calendar) to the remote
// event created there.
type Ledger interface {
	Find(ctx context.Context, recordType string, recordId string, calendarId string) (string, bool, error)
	Upsert(ctx context.Context, recordType string, recordId string, calendarId string, remoteEventId string) error
	Delete(ctx context.Context, recordType string, recordId string, calendarId string) error
	ListForRecord(ctx context.Context, recordType string, recordId string) ([]models.SyncLedgerEntry, error)
}

// CalendarSource resolves the target-calendar set for a record.
type CalendarSource interface {
	Resolve(ctx context.Context, recordType string, owner string) ([]models.TargetCalendar, error)
}

type NotifyRequest struct {
	RecordType string `json:"recordType" binding:"required"`
	RecordId   string `json:"recordId" binding:"required"`
	Reason     string `json:"reason" binding:"required,oneof=updated trashed"`
}

type SaveCalendarRequest struct {
	CalendarId      string `json:"calendarId" binding:"required"`
	Owner           string `json:"owner"`
	Enabled         *bool  `json:"enabled"`
	TimeZone        string `json:"timeZone"`
	CredentialsJSON string `json:"credentialsJson"`
}

type SaveMappingRequest struct {
	RecordType string `json:"recordType" binding:"required"`
	CalendarId string `json:"calendarId" binding:"required"`
}

type ResyncRequest struct {
	RecordType string `json:"recordType" binding:"required"`
	RecordId   string `json:"recordId" binding:"required"`
}

type LedgerEntryResponse struct {
	CalendarId    string `json:"calendarId"`
	RemoteEventId string `json:"remoteEventId"`
	UpdatedAt     string `json:"updatedAt"`
}

type SyncFailureResponse struct {
	ID         uint   `json:"id"`
	CalendarId string `json:"calendarId"`
	ErrorCode  string `json:"errorCode"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	CreatedAt  string `json:"createdAt"`
}

type RecordStatusResponse struct {
	RecordType string                `json:"recordType"`
	RecordId   string                `json:"recordId"`
	Entries    []LedgerEntryResponse `json:"entries"`
	Failures   []SyncFailureResponse `json:"failures"`
}
