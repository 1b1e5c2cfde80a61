package calsync

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/sapphirefountains/calsync_backend/config"
	"bitbucket.org/sapphirefountains/calsync_backend/models"
	"bitbucket.org/sapphirefountains/calsync_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const moduleName = "calsync"

// EventAPI is the remote calendar surface the reconciler drives. Create
// returns the remote event id; Patch and Delete report a missing target as
// ErrRemoteGone so callers can distinguish "already gone" from real failures.
type EventAPI interface {
	Create(ctx context.Context, cal models.TargetCalendar, payload SyncPayload) (string, error)
	Patch(ctx context.Context, cal models.TargetCalendar, eventId string, payload SyncPayload) error
	Delete(ctx context.Context, cal models.TargetCalendar, eventId string) error
}

// Reconciler keeps one record's remote events consistent across all its
// target calendars. It is the only component that mutates the ledger.
type Reconciler struct {
	Store     RecordStore
	Ledger    Ledger
	Events    EventAPI
	Calendars CalendarSource
	Logger    *logrus.Logger

	GetSnapshot    func(ctx context.Context, recordType string, recordId string) (map[string]string, bool, error)
	SaveSnapshot   func(ctx context.Context, recordType string, recordId string, fields map[string]string) error
	DeleteSnapshot func(ctx context.Context, recordType string, recordId string) error
	RecordFailure  func(ctx context.Context, failure *models.SyncFailure) error
	FindCalendar   func(ctx context.Context, calendarId string) (*models.TargetCalendar, error)
}

func NewReconciler(store RecordStore, ledger Ledger, events EventAPI, calendars CalendarSource, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		Store:          store,
		Ledger:         ledger,
		Events:         events,
		Calendars:      calendars,
		Logger:         logger,
		GetSnapshot:    models.GetRecordSnapshot,
		SaveSnapshot:   models.SaveRecordSnapshot,
		DeleteSnapshot: models.DeleteRecordSnapshot,
		RecordFailure:  models.CreateSyncFailure,
		FindCalendar:   models.FindTargetCalendar,
	}
}

// ReconcileRecord brings the record's remote events in line with its current
// field values and status. Per-calendar failures are logged and recorded but
// never stop the remaining calendars; only errors that abort the whole run
// are returned.
func (r *Reconciler) ReconcileRecord(ctx context.Context, recordType string, recordId string, reason string) error {
	rule, supported := ruleFor(recordType)
	if !supported {
		return nil
	}

	tracer := otel.Tracer(moduleName)
	ctx, span := tracer.Start(ctx, "calsync.reconcile", trace.WithAttributes(
		attribute.String("record_type", recordType),
		attribute.String("record_id", recordId),
		attribute.String("reason", reason),
	))
	defer span.End()

	if reason == ReasonTrashed {
		return r.deleteAllEvents(ctx, recordType, recordId)
	}

	status, err := r.Store.ReadStatus(ctx, recordType, recordId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			// Gone between dispatch and processing; same as trashed.
			return r.deleteAllEvents(ctx, recordType, recordId)
		}
		return err
	}

	if rule.isTerminalStatus(status) {
		return r.deleteAllEvents(ctx, recordType, recordId)
	}

	fields, err := r.Store.ReadFields(ctx, recordType, recordId, rule.watchFields())
	if err != nil {
		return err
	}
	fields["status"] = status

	snapshot, hasSnapshot, err := r.GetSnapshot(ctx, recordType, recordId)
	if err != nil {
		return err
	}
	if !shouldSync(recordType, fields, hasSnapshot, snapshot) {
		r.Logger.WithFields(logrus.Fields{
			"module":      moduleName,
			"record_type": recordType,
			"record_id":   recordId,
		}).Debug("no sync-relevant change; skipping")
		return nil
	}

	payload, ok := projectPayload(recordType, recordId, fields)
	if !ok {
		r.fail(ctx, recordType, recordId, "", models.SyncErrorCodePayload,
			"no usable start/end dates after projection", false,
			errors.New("unusable payload"))
		return nil
	}

	owner, err := r.Store.ReadOwner(ctx, recordType, recordId)
	if err != nil {
		return err
	}

	calendars, err := r.Calendars.Resolve(ctx, recordType, owner)
	if err != nil {
		return err
	}
	if len(calendars) == 0 {
		r.fail(ctx, recordType, recordId, "", models.SyncErrorCodeConfiguration,
			fmt.Sprintf("no target calendars resolved for type=%s owner=%s", recordType, owner), false,
			errors.New("no target calendars"))
		return nil
	}

	// Independent fan-out: one calendar failing must not stop the others.
	failed := 0
	for _, cal := range calendars {
		p := payload
		p.TimeZone = cal.TimeZone
		p = ensureWindow(p)
		if err := r.syncOne(ctx, cal, recordType, recordId, p); err != nil {
			failed++
			span.RecordError(err)
			r.fail(ctx, recordType, recordId, cal.CalendarId, models.SyncErrorCodeRemote,
				err.Error(), true, err)
		}
	}

	// Only a fully successful run advances the snapshot; a partial failure
	// keeps the next trigger re-syncing every calendar.
	if failed == 0 {
		if err := r.SaveSnapshot(ctx, recordType, recordId, snapshotFields(recordType, fields)); err != nil {
			config.LogError(r.Logger, moduleName, "ReconcileRecord", "saving record snapshot", recordId, err)
		}
	}
	return nil
}

// syncOne runs the per-(record, calendar) state machine: Absent -> create,
// Synced -> patch, with the recreate transition healing events deleted on the
// remote side out-of-band.
func (r *Reconciler) syncOne(ctx context.Context, cal models.TargetCalendar, recordType string, recordId string, payload SyncPayload) error {
	eventId, tracked, err := r.Ledger.Find(ctx, recordType, recordId, cal.CalendarId)
	if err != nil {
		return err
	}

	if !tracked {
		return r.createAndTrack(ctx, cal, recordType, recordId, payload)
	}

	err = r.Events.Patch(ctx, cal, eventId, payload)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRemoteGone) {
		// The tracked event was deleted directly in the remote calendar;
		// recreate and replace the stale id in place.
		return r.createAndTrack(ctx, cal, recordType, recordId, payload)
	}
	return err
}

func (r *Reconciler) createAndTrack(ctx context.Context, cal models.TargetCalendar, recordType string, recordId string, payload SyncPayload) error {
	remoteEventId, err := r.Events.Create(ctx, cal, payload)
	if err != nil {
		return err
	}
	if err := r.Ledger.Upsert(ctx, recordType, recordId, cal.CalendarId, remoteEventId); err != nil {
		// The remote event exists but local bookkeeping is stale; this can
		// cause a future duplicate create and must be loud.
		r.fail(ctx, recordType, recordId, cal.CalendarId, models.SyncErrorCodeLedgerWrite,
			fmt.Sprintf("remote event %s created but ledger write failed: %v", remoteEventId, err), true, err)
	}
	return nil
}

// deleteAllEvents is the cancellation/trash sweep: every ledger entry for the
// record is deleted remotely, AlreadyGone counts as success, and the entry is
// removed once the remote outcome is known. Opaque errors leave the entry for
// a later attempt. The legacy single-event-id field is processed as one extra
// deletion target, then cleared.
func (r *Reconciler) deleteAllEvents(ctx context.Context, recordType string, recordId string) error {
	entries, err := r.Ledger.ListForRecord(ctx, recordType, recordId)
	if err != nil {
		return err
	}

	failed := 0
	for _, entry := range entries {
		cal, err := r.FindCalendar(ctx, entry.CalendarId)
		if err != nil || cal == nil {
			failed++
			r.fail(ctx, recordType, recordId, entry.CalendarId, models.SyncErrorCodeConfiguration,
				"calendar configuration missing for tracked entry", false,
				errors.New("calendar not configured"))
			continue
		}

		err = r.Events.Delete(ctx, *cal, entry.RemoteEventId)
		if err != nil && !errors.Is(err, ErrRemoteGone) {
			failed++
			r.fail(ctx, recordType, recordId, entry.CalendarId, models.SyncErrorCodeRemote,
				err.Error(), true, err)
			continue
		}

		if err := r.Ledger.Delete(ctx, recordType, recordId, entry.CalendarId); err != nil {
			failed++
			r.fail(ctx, recordType, recordId, entry.CalendarId, models.SyncErrorCodeLedgerWrite,
				fmt.Sprintf("remote event deleted but ledger row remains: %v", err), true, err)
		}
	}

	r.deleteLegacyEvent(ctx, recordType, recordId)

	if failed == 0 {
		if err := r.DeleteSnapshot(ctx, recordType, recordId); err != nil {
			config.LogError(r.Logger, moduleName, "deleteAllEvents", "deleting record snapshot", recordId, err)
		}
	}
	return nil
}

// deleteLegacyEvent handles the deprecated pre-ledger event id: attempt the
// delete against every resolved calendar, then clear the field. Never used
// for creates.
func (r *Reconciler) deleteLegacyEvent(ctx context.Context, recordType string, recordId string) {
	fields, err := r.Store.ReadFields(ctx, recordType, recordId, []string{LegacyEventIdField})
	if err != nil {
		// Trashed records are already gone; nothing legacy to clean.
		if !errors.Is(err, utils.ErrorRecordNotFound) {
			config.LogError(r.Logger, moduleName, "deleteLegacyEvent", "reading legacy event id", recordId, err)
		}
		return
	}
	legacyId := fields[LegacyEventIdField]
	if legacyId == "" {
		return
	}

	owner, err := r.Store.ReadOwner(ctx, recordType, recordId)
	if err != nil {
		config.LogError(r.Logger, moduleName, "deleteLegacyEvent", "reading record owner", recordId, err)
		return
	}
	calendars, err := r.Calendars.Resolve(ctx, recordType, owner)
	if err != nil {
		config.LogError(r.Logger, moduleName, "deleteLegacyEvent", "resolving calendars", recordId, err)
		return
	}

	failed := 0
	for _, cal := range calendars {
		err := r.Events.Delete(ctx, cal, legacyId)
		if err != nil && !errors.Is(err, ErrRemoteGone) {
			failed++
			r.fail(ctx, recordType, recordId, cal.CalendarId, models.SyncErrorCodeRemote,
				fmt.Sprintf("legacy event delete failed: %v", err), true, err)
		}
	}
	if failed > 0 {
		return
	}

	if err := r.Store.SetField(ctx, recordType, recordId, LegacyEventIdField, ""); err != nil {
		config.LogError(r.Logger, moduleName, "deleteLegacyEvent", "clearing legacy event id", recordId, err)
	}
}

func (r *Reconciler) fail(ctx context.Context, recordType string, recordId string, calendarId string, code string, message string, retryable bool, err error) {
	r.Logger.WithFields(logrus.Fields{
		"module":      moduleName,
		"record_type": recordType,
		"record_id":   recordId,
		"calendar_id": calendarId,
		"error_code":  code,
	}).Error(message)

	if r.RecordFailure == nil {
		return
	}
	failure := &models.SyncFailure{
		RecordType: recordType,
		RecordId:   recordId,
		CalendarId: calendarId,
		ErrorCode:  code,
		Message:    message,
		Retryable:  retryable,
	}
	if recordErr := r.RecordFailure(ctx, failure); recordErr != nil {
		config.LogError(r.Logger, moduleName, "fail", "persisting sync failure", recordId, recordErr)
	}
}
