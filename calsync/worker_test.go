package calsync

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestWorkerDropsItsOwnTasks(t *testing.T) {
	w := NewWorker(nil, quietLogger())

	task := SyncTaskPayload{
		RecordType: RecordTypeTask,
		RecordId:   "TASK-001",
		Reason:     ReasonUpdated,
		Origin:     TaskOriginSyncWorker,
	}
	// A nil reconciler would panic if the guard let the task through.
	if err := w.Process(context.Background(), task); err != nil {
		t.Fatalf("Process error: %v", err)
	}
}

func TestWorkerDropsUnsupportedTypes(t *testing.T) {
	w := NewWorker(nil, quietLogger())

	task := SyncTaskPayload{RecordType: "note", RecordId: "NOTE-001", Reason: ReasonUpdated}
	if err := w.Process(context.Background(), task); err != nil {
		t.Fatalf("Process error: %v", err)
	}
}

func TestPushHandlerAcksMalformedDeliveries(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := NewWorker(nil, quietLogger())

	r := gin.New()
	r.POST("/pubsub/calendar-sync", PubSubPushHandler(w))

	bodies := []string{
		"not json",
		`{"message":{"data":null}}`,
		`{"message":{"data":"aGVsbG8="}}`, // valid base64, not a task
	}
	for _, body := range bodies {
		req := httptest.NewRequest(http.MethodPost, "/pubsub/calendar-sync", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("body %q: status = %d, want 204", body, rec.Code)
		}
	}
}
