package calsync

import (
	"context"

	"bitbucket.org/sapphirefountains/calsync_backend/models"
)

// dbLedger backs the Ledger interface with the sync_ledger_entries table.
type dbLedger struct{}

func NewLedger() Ledger {
	return dbLedger{}
}

func (dbLedger) Find(ctx context.Context, recordType string, recordId string, calendarId string) (string, bool, error) {
	return models.FindLedgerEntry(ctx, recordType, recordId, calendarId)
}

func (dbLedger) Upsert(ctx context.Context, recordType string, recordId string, calendarId string, remoteEventId string) error {
	return models.UpsertLedgerEntry(ctx, recordType, recordId, calendarId, remoteEventId)
}

func (dbLedger) Delete(ctx context.Context, recordType string, recordId string, calendarId string) error {
	return models.DeleteLedgerEntry(ctx, recordType, recordId, calendarId)
}

func (dbLedger) ListForRecord(ctx context.Context, recordType string, recordId string) ([]models.SyncLedgerEntry, error) {
	return models.ListLedgerEntriesForRecord(ctx, recordType, recordId)
}

func NewRecordStore() RecordStore {
	return models.DocumentStore{}
}
