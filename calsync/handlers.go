package calsync

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"bitbucket.org/sapphirefountains/calsync_backend/models"
	"bitbucket.org/sapphirefountains/calsync_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NotifyHandler is the change-notification ingress for callers that sit
// outside the document store's own hooks. It always answers 202 once the
// request parses; queue failures are logged, never surfaced.
func NotifyHandler(dispatcher *Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req NotifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		recordType := strings.ToLower(strings.TrimSpace(req.RecordType))
		if !IsSupportedRecordType(recordType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported record type"})
			return
		}

		dispatcher.OnChange(c.Request.Context(), recordType, strings.TrimSpace(req.RecordId), req.Reason)
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	}
}

// ResyncHandler forces a full re-sync of one record. The stored snapshot is
// dropped first so change detection cannot suppress the run.
func ResyncHandler(dispatcher *Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		recordType := strings.ToLower(strings.TrimSpace(req.RecordType))
		recordId := strings.TrimSpace(req.RecordId)
		if !IsSupportedRecordType(recordType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported record type"})
			return
		}

		if err := models.DeleteRecordSnapshot(c.Request.Context(), recordType, recordId); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		logManualTrigger(dispatcher, c, "resync", recordType, recordId)
		dispatcher.OnChange(c.Request.Context(), recordType, recordId, ReasonUpdated)
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	}
}

// logManualTrigger audit-logs operator-initiated runs with the identity the
// gateway forwarded, if any.
func logManualTrigger(dispatcher *Dispatcher, c *gin.Context, action string, recordType string, recordId string) {
	requestedBy, _ := utils.GetUsernameFromContext(c.Request.Context())
	dispatcher.Logger.WithFields(logrus.Fields{
		"module":       moduleName,
		"action":       action,
		"record_type":  recordType,
		"record_id":    recordId,
		"requested_by": requestedBy,
	}).Info("manual trigger")
}

// RecordStatusHandler reports the ledger entries and recent failures for one
// record.
func RecordStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		recordType := strings.ToLower(strings.TrimSpace(c.Param("recordType")))
		recordId := strings.TrimSpace(c.Param("recordId"))
		if !IsSupportedRecordType(recordType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported record type"})
			return
		}

		entries, err := models.ListLedgerEntriesForRecord(c.Request.Context(), recordType, recordId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		failures, err := models.ListSyncFailuresForRecord(c.Request.Context(), recordType, recordId, 20)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		resp := RecordStatusResponse{
			RecordType: recordType,
			RecordId:   recordId,
			Entries:    []LedgerEntryResponse{},
			Failures:   []SyncFailureResponse{},
		}
		for _, entry := range entries {
			resp.Entries = append(resp.Entries, LedgerEntryResponse{
				CalendarId:    entry.CalendarId,
				RemoteEventId: entry.RemoteEventId,
				UpdatedAt:     entry.UpdatedAt.Format("2006-01-02 15:04:05"),
			})
		}
		for _, failure := range failures {
			resp.Failures = append(resp.Failures, SyncFailureResponse{
				ID:         failure.ID,
				CalendarId: failure.CalendarId,
				ErrorCode:  failure.ErrorCode,
				Message:    failure.Message,
				Retryable:  failure.Retryable,
				CreatedAt:  failure.CreatedAt.Format("2006-01-02 15:04:05"),
			})
		}
		c.JSON(http.StatusOK, resp)
	}
}

// FailuresHandler lists recent sync failures across all records.
func FailuresHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 100
		if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 1000 {
				limit = parsed
			}
		}

		failures, err := models.ListRecentSyncFailures(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		resp := make([]SyncFailureResponse, 0, len(failures))
		for _, failure := range failures {
			resp = append(resp, SyncFailureResponse{
				ID:         failure.ID,
				CalendarId: failure.CalendarId,
				ErrorCode:  failure.ErrorCode,
				Message:    failure.Message,
				Retryable:  failure.Retryable,
				CreatedAt:  failure.CreatedAt.Format("2006-01-02 15:04:05"),
			})
		}
		c.JSON(http.StatusOK, resp)
	}
}

// SweepHandler enqueues a reconciliation for every record the ledger knows
// about. Terminal and trashed records get their events cleaned up; the rest
// are no-ops unless their fields drifted.
func SweepHandler(dispatcher *Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		refs, err := models.ListRecordsWithLedgerEntries(c.Request.Context(), 0)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		logManualTrigger(dispatcher, c, "sweep", "", "")
		for _, ref := range refs {
			dispatcher.OnChange(c.Request.Context(), ref.RecordType, ref.RecordId, ReasonUpdated)
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "records": len(refs)})
	}
}

// ExportHandler streams the ledger and failure log as an xlsx workbook.
func ExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		f, err := BuildLedgerWorkbook(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var buf bytes.Buffer
		if err := f.Write(&buf); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Header("Content-Disposition", "attachment; filename=calendar-sync-ledger.xlsx")
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
	}
}

// SaveCalendarHandler registers or updates a target calendar.
func SaveCalendarHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SaveCalendarRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		enabled := true
		if req.Enabled != nil {
			enabled = *req.Enabled
		}
		cal := models.TargetCalendar{
			CalendarId:      strings.TrimSpace(req.CalendarId),
			Owner:           strings.TrimSpace(req.Owner),
			Enabled:         enabled,
			TimeZone:        strings.TrimSpace(req.TimeZone),
			CredentialsJSON: req.CredentialsJSON,
		}
		if err := models.SaveTargetCalendar(c.Request.Context(), &cal); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "saved", "calendarId": cal.CalendarId})
	}
}

// SaveMappingHandler routes a record type to a configured calendar.
func SaveMappingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SaveMappingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		recordType := strings.ToLower(strings.TrimSpace(req.RecordType))
		if !IsSupportedRecordType(recordType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported record type"})
			return
		}
		mapping := models.RecordTypeCalendarMap{
			RecordType: recordType,
			CalendarId: strings.TrimSpace(req.CalendarId),
		}
		if err := models.SaveCalendarMapping(c.Request.Context(), &mapping); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "saved"})
	}
}
