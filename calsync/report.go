package calsync

import (
	"context"
	"fmt"

	"bitbucket.org/sapphirefountains/calsync_backend/models"
	"github.com/xuri/excelize/v2"
)

// BuildLedgerWorkbook renders the full ledger plus recent failures into a
// two-sheet workbook for operator export.
func BuildLedgerWorkbook(ctx context.Context) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", "Ledger"); err != nil {
		return nil, err
	}

	f.SetCellValue("Ledger", "A1", "RecordType")
	f.SetCellValue("Ledger", "B1", "RecordId")
	f.SetCellValue("Ledger", "C1", "CalendarId")
	f.SetCellValue("Ledger", "D1", "RemoteEventId")
	f.SetCellValue("Ledger", "E1", "UpdatedAt")

	entries, err := listAllLedgerEntries(ctx)
	if err != nil {
		return nil, err
	}
	for i, entry := range entries {
		row := fmt.Sprint(i + 2)
		f.SetCellValue("Ledger", "A"+row, entry.RecordType)
		f.SetCellValue("Ledger", "B"+row, entry.RecordId)
		f.SetCellValue("Ledger", "C"+row, entry.CalendarId)
		f.SetCellValue("Ledger", "D"+row, entry.RemoteEventId)
		f.SetCellValue("Ledger", "E"+row, entry.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	if _, err := f.NewSheet("Failures"); err != nil {
		return nil, err
	}
	f.SetCellValue("Failures", "A1", "RecordType")
	f.SetCellValue("Failures", "B1", "RecordId")
	f.SetCellValue("Failures", "C1", "CalendarId")
	f.SetCellValue("Failures", "D1", "ErrorCode")
	f.SetCellValue("Failures", "E1", "Message")
	f.SetCellValue("Failures", "F1", "Retryable")
	f.SetCellValue("Failures", "G1", "CreatedAt")

	failures, err := models.ListRecentSyncFailures(ctx, 1000)
	if err != nil {
		return nil, err
	}
	for i, failure := range failures {
		row := fmt.Sprint(i + 2)
		f.SetCellValue("Failures", "A"+row, failure.RecordType)
		f.SetCellValue("Failures", "B"+row, failure.RecordId)
		f.SetCellValue("Failures", "C"+row, failure.CalendarId)
		f.SetCellValue("Failures", "D"+row, failure.ErrorCode)
		f.SetCellValue("Failures", "E"+row, failure.Message)
		f.SetCellValue("Failures", "F"+row, failure.Retryable)
		f.SetCellValue("Failures", "G"+row, failure.CreatedAt.Format("2006-01-02 15:04:05"))
	}

	return f, nil
}

func listAllLedgerEntries(ctx context.Context) ([]models.SyncLedgerEntry, error) {
	refs, err := models.ListRecordsWithLedgerEntries(ctx, 0)
	if err != nil {
		return nil, err
	}
	var entries []models.SyncLedgerEntry
	for _, ref := range refs {
		perRecord, err := models.ListLedgerEntriesForRecord(ctx, ref.RecordType, ref.RecordId)
		if err != nil {
			return nil, err
		}
		entries = append(entries, perRecord...)
	}
	return entries, nil
}
