package calsync

import (
	"context"
	"os"
	"strings"

	"bitbucket.org/sapphirefountains/calsync_backend/config"
	"bitbucket.org/sapphirefountains/calsync_backend/utils"
	"github.com/sirupsen/logrus"
)

// Dispatcher is the ingress for record change notifications. It filters and
// enqueues; it never reconciles inline and never returns an error to the
// caller, so a broken queue cannot fail the record write that triggered it.
type Dispatcher struct {
	Logger       *logrus.Logger
	IgnoredTypes map[string]bool
	Publish      func(ctx context.Context, task SyncTaskPayload) error
}

func NewDispatcher(logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		Logger:       logger,
		IgnoredTypes: ignoredTypesFromEnv(),
		Publish:      PublishSyncTask,
	}
}

// ignoredTypesFromEnv reads CALSYNC_IGNORED_TYPES, a comma-separated list of
// record types that stay local even though a calendar mapping may exist.
func ignoredTypesFromEnv() map[string]bool {
	ignored := map[string]bool{}
	for _, entry := range strings.Split(os.Getenv("CALSYNC_IGNORED_TYPES"), ",") {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry != "" {
			ignored[entry] = true
		}
	}
	return ignored
}

// OnChange enqueues a reconciliation for the changed record. Writes made by
// the sync worker itself are dropped here; that is the guard that keeps the
// worker's own field updates from re-triggering a sync loop.
func (d *Dispatcher) OnChange(ctx context.Context, recordType string, recordId string, reason string) {
	if utils.IsSyncWorkerContext(ctx) {
		return
	}
	if !IsSupportedRecordType(recordType) || d.IgnoredTypes[recordType] {
		return
	}
	if recordId == "" {
		return
	}

	task := SyncTaskPayload{
		RecordType: recordType,
		RecordId:   recordId,
		Reason:     reason,
	}
	if correlationId, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		task.CorrelationId = correlationId
	}

	if err := d.Publish(ctx, task); err != nil {
		config.LogError(d.Logger, moduleName, "OnChange", "publishing sync task", recordId, err)
	}
}
