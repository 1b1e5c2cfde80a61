package calsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"bitbucket.org/sapphirefountains/calsync_backend/models"
	"bitbucket.org/sapphirefountains/calsync_backend/utils"
	"github.com/sirupsen/logrus"
)

type fakeStore struct {
	fields   map[string]string
	status   string
	owner    string
	missing  bool
	setCalls []string
}

func (s *fakeStore) ReadFields(ctx context.Context, recordType string, recordId string, fieldNames []string) (map[string]string, error) {
	if s.missing {
		return nil, utils.ErrorRecordNotFound
	}
	out := make(map[string]string, len(fieldNames))
	for _, name := range fieldNames {
		if name == "status" {
			out[name] = s.status
			continue
		}
		out[name] = s.fields[name]
	}
	return out, nil
}

func (s *fakeStore) ReadStatus(ctx context.Context, recordType string, recordId string) (string, error) {
	if s.missing {
		return "", utils.ErrorRecordNotFound
	}
	return s.status, nil
}

func (s *fakeStore) ReadOwner(ctx context.Context, recordType string, recordId string) (string, error) {
	if s.missing {
		return "", utils.ErrorRecordNotFound
	}
	return s.owner, nil
}

func (s *fakeStore) SetField(ctx context.Context, recordType string, recordId string, fieldName string, value string) error {
	if s.missing {
		return utils.ErrorRecordNotFound
	}
	s.fields[fieldName] = value
	s.setCalls = append(s.setCalls, fieldName+"="+value)
	return nil
}

type fakeLedger struct {
	entries []models.SyncLedgerEntry
}

func (l *fakeLedger) Find(ctx context.Context, recordType string, recordId string, calendarId string) (string, bool, error) {
	for _, e := range l.entries {
		if e.RecordType == recordType && e.RecordId == recordId && e.CalendarId == calendarId {
			return e.RemoteEventId, true, nil
		}
	}
	return "", false, nil
}

func (l *fakeLedger) Upsert(ctx context.Context, recordType string, recordId string, calendarId string, remoteEventId string) error {
	for i, e := range l.entries {
		if e.RecordType == recordType && e.RecordId == recordId && e.CalendarId == calendarId {
			l.entries[i].RemoteEventId = remoteEventId
			return nil
		}
	}
	l.entries = append(l.entries, models.SyncLedgerEntry{
		RecordType:    recordType,
		RecordId:      recordId,
		CalendarId:    calendarId,
		RemoteEventId: remoteEventId,
	})
	return nil
}

func (l *fakeLedger) Delete(ctx context.Context, recordType string, recordId string, calendarId string) error {
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.RecordType == recordType && e.RecordId == recordId && e.CalendarId == calendarId {
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	return nil
}

func (l *fakeLedger) ListForRecord(ctx context.Context, recordType string, recordId string) ([]models.SyncLedgerEntry, error) {
	var out []models.SyncLedgerEntry
	for _, e := range l.entries {
		if e.RecordType == recordType && e.RecordId == recordId {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeEvents struct {
	createErr map[string]error
	patchErr  map[string]error
	deleteErr map[string]error

	creates      []string
	patches      []string
	deletes      []string
	lastPayloads map[string]SyncPayload
	nextId       int
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{
		createErr:    map[string]error{},
		patchErr:     map[string]error{},
		deleteErr:    map[string]error{},
		lastPayloads: map[string]SyncPayload{},
	}
}

func (f *fakeEvents) Create(ctx context.Context, cal models.TargetCalendar, payload SyncPayload) (string, error) {
	f.creates = append(f.creates, cal.CalendarId)
	f.lastPayloads[cal.CalendarId] = payload
	if err := f.createErr[cal.CalendarId]; err != nil {
		return "", err
	}
	f.nextId++
	return fmt.Sprintf("evt-%d", f.nextId), nil
}

func (f *fakeEvents) Patch(ctx context.Context, cal models.TargetCalendar, eventId string, payload SyncPayload) error {
	f.patches = append(f.patches, cal.CalendarId+"/"+eventId)
	f.lastPayloads[cal.CalendarId] = payload
	return f.patchErr[cal.CalendarId]
}

func (f *fakeEvents) Delete(ctx context.Context, cal models.TargetCalendar, eventId string) error {
	f.deletes = append(f.deletes, cal.CalendarId+"/"+eventId)
	return f.deleteErr[cal.CalendarId]
}

type fakeCalendars struct {
	cals []models.TargetCalendar
}

func (f *fakeCalendars) Resolve(ctx context.Context, recordType string, owner string) ([]models.TargetCalendar, error) {
	return f.cals, nil
}

type harness struct {
	rec       *Reconciler
	store     *fakeStore
	ledger    *fakeLedger
	events    *fakeEvents
	snapshots map[string]map[string]string
	failures  []models.SyncFailure
}

func newHarness(store *fakeStore, calendarIds ...string) *harness {
	cals := make([]models.TargetCalendar, 0, len(calendarIds))
	for _, id := range calendarIds {
		cals = append(cals, models.TargetCalendar{CalendarId: id, Enabled: true, TimeZone: "UTC"})
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := &harness{
		store:     store,
		ledger:    &fakeLedger{},
		events:    newFakeEvents(),
		snapshots: map[string]map[string]string{},
	}
	h.rec = &Reconciler{
		Store:     store,
		Ledger:    h.ledger,
		Events:    h.events,
		Calendars: &fakeCalendars{cals: cals},
		Logger:    logger,
		GetSnapshot: func(ctx context.Context, recordType string, recordId string) (map[string]string, bool, error) {
			snap, ok := h.snapshots[recordType+"/"+recordId]
			return snap, ok, nil
		},
		SaveSnapshot: func(ctx context.Context, recordType string, recordId string, fields map[string]string) error {
			h.snapshots[recordType+"/"+recordId] = fields
			return nil
		},
		DeleteSnapshot: func(ctx context.Context, recordType string, recordId string) error {
			delete(h.snapshots, recordType+"/"+recordId)
			return nil
		},
		RecordFailure: func(ctx context.Context, failure *models.SyncFailure) error {
			h.failures = append(h.failures, *failure)
			return nil
		},
		FindCalendar: func(ctx context.Context, calendarId string) (*models.TargetCalendar, error) {
			for _, cal := range cals {
				if cal.CalendarId == calendarId {
					c := cal
					return &c, nil
				}
			}
			return nil, nil
		},
	}
	return h
}

func openTaskStore() *fakeStore {
	return &fakeStore{
		fields: map[string]string{
			"exp_start_date": "2025-03-01 09:00:00",
			"exp_end_date":   "2025-03-01 10:00:00",
			"subject":        "Quarterly planning",
		},
		status: "Open",
		owner:  "alice@example.com",
	}
}

func TestReconcileCreatesAcrossAllCalendars(t *testing.T) {
	h := newHarness(openTaskStore(), "team-cal", "ops-cal", "personal-cal")

	if err := h.rec.ReconcileRecord(context.Background(), RecordTypeTask, "TASK-001", ReasonUpdated); err != nil {
		t.Fatalf("ReconcileRecord error: %v", err)
	}

	if len(h.events.creates) != 3 {
		t.Fatalf("expected 3 creates, got %d (%v)", len(h.events.creates), h.events.creates)
	}
	if len(h.ledger.entries) != 3 {
		t.Fatalf("expected 3 ledger entries, got %d", len(h.ledger.entries))
	}
	for _, e := range h.ledger.entries {
		if e.RemoteEventId == "" {
			t.Fatalf("ledger entry for %s has empty remote event id", e.CalendarId)
		}
	}
	if len(h.failures) != 0 {
		t.Fatalf("expected no failures, got %v", h.failures)
	}
	if _, ok := h.snapshots["task/TASK-001"]; !ok {
		t.Fatal("expected snapshot saved after full success")
	}
}

func TestReconcileSkipsWhenNothingRelevantChanged(t *testing.T) {
	h := newHarness(openTaskStore(), "team-cal")

	if err := h.rec.ReconcileRecord(context.Background(), RecordTypeTask, "TASK-001", ReasonUpdated); err != nil {
		t.Fatalf("first run error: %v", err)
	}
	if err := h.rec.ReconcileRecord(context.Background(), RecordTypeTask, "TASK-001", ReasonUpdated); err != nil {
		t.Fatalf("second run error: %v", err)
	}

	if len(h.events.creates) != 1 || len(h.events.patches) != 0 {
		t.Fatalf("second no-op run still hit the remote: creates=%v patches=%v",
			h.events.creates, h.events.patches)
	}
}

func TestReconcileTreatsFormatOnlyDateChangeAsNoop(t *testing.T) {
	store := openTaskStore()
	h := newHarness(store, "team-cal")

	if err := h.rec.ReconcileRecord(context.Background(), RecordTypeTask, "TASK-001", ReasonUpdated); err != nil {
		t.Fatalf("first run error: %v", err)
	}

	// Same instant, different spelling.
	store.fields["exp_start_date"] = "2025-03-01T09:00:00"
	if err := h.rec.ReconcileRecord(context.Background(), RecordTypeTask, "TASK-001", ReasonUpdated); err != nil {
		t.Fatalf("second run error: %v", err)
	}

	if len(h.events.creates)+len(h.events.patches) != 1 {
		t.Fatalf("format-only change triggered remote calls: creates=%v patches=%v",
			h.events.creates, h.events.patches)
	}
}

func TestReconcilePatchesAfterRealChange(t *testing.T) {
	store := openTaskStore()
	h := newHarness(store, "team-cal")

	if err := h.rec.ReconcileRecord(context.Background(), RecordTypeTask, "TASK-001", ReasonUpdated); err != nil {
		t.Fatalf("first run error: %v", err)
	}

	store.fields["subject"] = "Quarterly planning (moved)"
	if err := h.rec.ReconcileRecord(context.Background(), RecordTypeTask, "TASK-001", ReasonUpdated); err != nil {
		t.Fatalf("second run error: %v", err)
	}

	if len(h.events.creates) != 1 {
		t.Fatalf("expected exactly 1 create, got %v", h.events.creates)
	}
	if len(h.events.patches) != 1 {
		t.Fatalf("expected exactly 1 patch, got %v", h.events.patches)
	}
	if got := h.events.lastPayloads["team-cal"].Title; got != "Task: Quarterly planning (moved)" {
		t.Fatalf("patched payload title = %q", got)
	}
}

func TestReconcileRecreatesRemotelyDeletedEvent(t *testing.T) {
	store := openTaskStore()
	h := newHarness(store, "team-cal")
	h.ledger.entries = []models.SyncLedgerEntry{
		{RecordType: "task", RecordId: "TASK-001", CalendarId: "team-cal", RemoteEventId: "stale-evt"},
	}
	h.events.patchErr["team-cal"] = ErrRemoteGone

	if err := h.rec.ReconcileRecord(context.Background(), RecordTypeTask, "TASK-001", ReasonUpdated); err != nil {
		t.Fatalf("ReconcileRecord error: %v", err)
	}

	if len(h.events.patches) != 1 {
		t.Fatalf("expected 1 patch attempt, got %v", h.events.patches)
	}
	if len(h.events.creates) != 1 {
		t.Fatalf("expected exactly 1 recreate, got %v", h.events.creates)
	}
	if len(h.ledger.entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(h.ledger.entries))
	}
	if h.ledger.entries[0].RemoteEventId == "stale-evt" {
		t.Fatal("ledger still holds the stale remote event id")
	}
	if len(h.failures) != 0 {
		t.Fatalf("recreate is self-healing, expected no failures, got %v", h.failures)
	}
}

func TestReconcileCalendarFailuresAreIndependent(t *testing.T) {
	h := newHarness(openTaskStore(), "team-cal", "broken-cal", "ops-cal")
	h.events.createErr["broken-cal"] = errors.New("backend unavailable")

	if err := h.rec.ReconcileRecord(context.Background(), RecordTypeTask, "TASK-001", ReasonUpdated); err != nil {
		t.Fatalf("ReconcileRecord error: %v", err)
	}

	if len(h.ledger.entries) != 2 {
		t.Fatalf("expected 2 ledger entries for healthy calendars, got %d", len(h.ledger.entries))
	}
	for _, e := range h.ledger.entries {
		if e.CalendarId == "broken-cal" {
			t.Fatal("failed calendar must not get a ledger entry")
		}
	}
	if len(h.failures) != 1 {
		t.Fatalf("expected 1 failure row, got %v", h.failures)
	}
	if h.failures[0].ErrorCode != models.SyncErrorCodeRemote || h.failures[0].CalendarId != "broken-cal" {
		t.Fatalf("unexpected failure: %+v", h.failures[0])
	}
	if _, ok := h.snapshots["task/TASK-001"]; ok {
		t.Fatal("partial failure must not advance the snapshot")
	}

	// Calendar recovers; the next run heals the gap without duplicating the
	// healthy calendars' events.
	delete(h.events.createErr, "broken-cal")
	if err := h.rec.ReconcileRecord(context.Background(), RecordTypeTask, "TASK-001", ReasonUpdated); err != nil {
		t.Fatalf("recovery run error: %v", err)
	}
	if len(h.ledger.entries) != 3 {
		t.Fatalf("expected 3 ledger entries after recovery, got %d", len(h.ledger.entries))
	}
	if len(h.events.creates) != 4 {
		t.Fatalf("expected 4 create attempts total, got %v", h.events.creates)
	}
}

func TestTerminalStatusDeletesEverywhere(t *testing.T) {
	store := openTaskStore()
	store.status = "Cancelled"
	h := newHarness(store, "team-cal", "ops-cal", "personal-cal")
	h.ledger.entries = []models.SyncLedgerEntry{
		{RecordType: "task", RecordId: "TASK-001", CalendarId: "team-cal", RemoteEventId: "evt-a"},
		{RecordType: "task", RecordId: "TASK-001", CalendarId: "ops-cal", RemoteEventId: "evt-b"},
		{RecordType: "task", RecordId: "TASK-001", CalendarId: "personal-cal", RemoteEventId: "evt-c"},
	}
	// One event already deleted remotely; that still counts as success.
	h.events.deleteErr["ops-cal"] = ErrRemoteGone
	h.snapshots["task/TASK-001"] = map[string]string{"status": "Open"}

	if err := h.rec.ReconcileRecord(context.Background(), RecordTypeTask, "TASK-001", ReasonUpdated); err != nil {
		t.Fatalf("ReconcileRecord error: %v", err)
	}

	if len(h.ledger.entries) != 0 {
		t.Fatalf("expected empty ledger after sweep, got %v", h.ledger.entries)
	}
	if len(h.events.creates)+len(h.events.patches) != 0 {
		t.Fatal("terminal record must never be created or patched")
	}
	if len(h.failures) != 0 {
		t.Fatalf("expected no failures, got %v", h.failures)
	}
	if _, ok := h.snapshots["task/TASK-001"]; ok {
		t.Fatal("snapshot should be dropped after a clean sweep")
	}
}

func TestSweepKeepsEntryOnOpaqueRemoteError(t *testing.T) {
	store := openTaskStore()
	store.status = "Cancelled"
	h := newHarness(store, "team-cal", "ops-cal")
	h.ledger.entries = []models.SyncLedgerEntry{
		{RecordType: "task", RecordId: "TASK-001", CalendarId: "team-cal", RemoteEventId: "evt-a"},
		{RecordType: "task", RecordId: "TASK-001", CalendarId: "ops-cal", RemoteEventId: "evt-b"},
	}
	h.events.deleteErr["ops-cal"] = errors.New("rate limited")

	if err := h.rec.ReconcileRecord(context.Background(), RecordTypeTask, "TASK-001", ReasonUpdated); err != nil {
		t.Fatalf("ReconcileRecord error: %v", err)
	}

	if len(h.ledger.entries) != 1 || h.ledger.entries[0].CalendarId != "ops-cal" {
		t.Fatalf("expected only the failed entry to survive, got %v", h.ledger.entries)
	}
	if len(h.failures) != 1 || h.failures[0].ErrorCode != models.SyncErrorCodeRemote {
		t.Fatalf("expected one remote failure, got %v", h.failures)
	}
}

func TestSweepClearsLegacyEventId(t *testing.T) {
	store := openTaskStore()
	store.status = "Closed"
	store.fields[LegacyEventIdField] = "legacy-evt"
	h := newHarness(store, "team-cal", "ops-cal")

	if err := h.rec.ReconcileRecord(context.Background(), RecordTypeTask, "TASK-001", ReasonUpdated); err != nil {
		t.Fatalf("ReconcileRecord error: %v", err)
	}

	wantDeletes := map[string]bool{
		"team-cal/legacy-evt": true,
		"ops-cal/legacy-evt":  true,
	}
	for _, d := range h.events.deletes {
		delete(wantDeletes, d)
	}
	if len(wantDeletes) != 0 {
		t.Fatalf("legacy event not deleted everywhere, remaining: %v (got %v)", wantDeletes, h.events.deletes)
	}
	if store.fields[LegacyEventIdField] != "" {
		t.Fatalf("legacy field not cleared: %q", store.fields[LegacyEventIdField])
	}
	if len(store.setCalls) != 1 || store.setCalls[0] != LegacyEventIdField+"=" {
		t.Fatalf("unexpected field writes: %v", store.setCalls)
	}
}

func TestTrashedRecordSweepsWithoutReadingRecord(t *testing.T) {
	store := &fakeStore{missing: true}
	h := newHarness(store, "team-cal")
	h.ledger.entries = []models.SyncLedgerEntry{
		{RecordType: "task", RecordId: "TASK-001", CalendarId: "team-cal", RemoteEventId: "evt-a"},
	}

	if err := h.rec.ReconcileRecord(context.Background(), RecordTypeTask, "TASK-001", ReasonTrashed); err != nil {
		t.Fatalf("ReconcileRecord error: %v", err)
	}

	if len(h.ledger.entries) != 0 {
		t.Fatalf("expected empty ledger, got %v", h.ledger.entries)
	}
	if len(h.events.deletes) != 1 || h.events.deletes[0] != "team-cal/evt-a" {
		t.Fatalf("unexpected deletes: %v", h.events.deletes)
	}
}

func TestInvertedWindowGetsMinimumDuration(t *testing.T) {
	store := openTaskStore()
	store.fields["exp_end_date"] = "2025-03-01 08:00:00" // before start
	h := newHarness(store, "team-cal")

	if err := h.rec.ReconcileRecord(context.Background(), RecordTypeTask, "TASK-001", ReasonUpdated); err != nil {
		t.Fatalf("ReconcileRecord error: %v", err)
	}

	payload := h.events.lastPayloads["team-cal"]
	if got := payload.End.Sub(payload.Start); got != minimumEventDuration {
		t.Fatalf("expected %v window, got %v", minimumEventDuration, got)
	}
}

func TestUnusableDatesRecordPayloadFailure(t *testing.T) {
	store := &fakeStore{
		fields: map[string]string{"subject": "No dates yet"},
		status: "Open",
		owner:  "alice@example.com",
	}
	h := newHarness(store, "team-cal")

	if err := h.rec.ReconcileRecord(context.Background(), RecordTypeTask, "TASK-002", ReasonUpdated); err != nil {
		t.Fatalf("ReconcileRecord error: %v", err)
	}

	if len(h.events.creates) != 0 {
		t.Fatalf("expected no remote calls, got %v", h.events.creates)
	}
	if len(h.failures) != 1 || h.failures[0].ErrorCode != models.SyncErrorCodePayload {
		t.Fatalf("expected one payload failure, got %v", h.failures)
	}
}

func TestUnsupportedTypeIsIgnored(t *testing.T) {
	h := newHarness(openTaskStore(), "team-cal")

	if err := h.rec.ReconcileRecord(context.Background(), "note", "NOTE-001", ReasonUpdated); err != nil {
		t.Fatalf("ReconcileRecord error: %v", err)
	}
	if len(h.events.creates)+len(h.events.patches)+len(h.events.deletes) != 0 {
		t.Fatal("unsupported type must not touch the remote")
	}
}
