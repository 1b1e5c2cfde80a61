package utils

import (
	"context"

	"bitbucket.org/sapphirefountains/calsync_backend/appctx"
)

var (
	ContextKeyUsername      = appctx.ContextKeyUsername
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeySyncWorker    = appctx.ContextKeySyncWorker
)

func GetUsernameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUsername)
}

func SetUsernameInContext(ctx context.Context, username string) context.Context {
	return appctx.Set(ctx, ContextKeyUsername, username)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

// IsSyncWorkerContext reports whether the context belongs to the calendar-sync
// background worker. Record writes made under such a context must not be
// dispatched again.
func IsSyncWorkerContext(ctx context.Context) bool {
	v, ok := appctx.GetBool(ctx, ContextKeySyncWorker)
	return ok && v
}

func SetSyncWorkerInContext(ctx context.Context, isWorker bool) context.Context {
	return appctx.Set(ctx, ContextKeySyncWorker, isWorker)
}
