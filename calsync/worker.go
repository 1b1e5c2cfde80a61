package calsync

import (
	"context"
	"fmt"

	"bitbucket.org/sapphirefountains/calsync_backend/config"
	"bitbucket.org/sapphirefountains/calsync_backend/utils"
	"github.com/sirupsen/logrus"
)

// Worker consumes queued sync tasks. All record and ledger writes it makes run
// under the sync-worker context so the dispatcher ignores them.
type Worker struct {
	Reconciler *Reconciler
	Logger     *logrus.Logger
}

func NewWorker(reconciler *Reconciler, logger *logrus.Logger) *Worker {
	return &Worker{Reconciler: reconciler, Logger: logger}
}

// Process reconciles one record under a per-record lock. Concurrent tasks for
// the same record serialize; tasks for different records run independently.
func (w *Worker) Process(ctx context.Context, task SyncTaskPayload) (err error) {
	if task.Origin == TaskOriginSyncWorker {
		return nil
	}
	if !IsSupportedRecordType(task.RecordType) {
		return nil
	}

	if task.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, task.CorrelationId)
	}
	ctx = utils.SetSyncWorkerInContext(ctx, true)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync task panicked: %v", r)
			config.LogError(w.Logger, moduleName, "Process", "recovered from panic", task.RecordId, err)
		}
	}()

	release, err := utils.RecordLock(ctx, task.RecordType, task.RecordId, moduleName, "Process")
	if err != nil {
		config.LogError(w.Logger, moduleName, "Process", "acquiring record lock", task.RecordId, err)
		return err
	}
	defer release()

	w.Logger.WithFields(logrus.Fields{
		"module":      moduleName,
		"record_type": task.RecordType,
		"record_id":   task.RecordId,
		"reason":      task.Reason,
	}).Info("processing sync task")

	if err := w.Reconciler.ReconcileRecord(ctx, task.RecordType, task.RecordId, task.Reason); err != nil {
		config.LogError(w.Logger, moduleName, "Process", "reconciling record", task.RecordId, err)
		return err
	}
	return nil
}
