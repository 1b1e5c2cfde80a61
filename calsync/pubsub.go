package calsync

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"bitbucket.org/sapphirefountains/calsync_backend/config"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
)

func syncTopicName() string {
	name := strings.TrimSpace(os.Getenv("CALSYNC_TOPIC"))
	if name == "" {
		name = "calendar-sync"
	}
	return name
}

// PublishSyncTask enqueues a reconciliation for one record. Only the type,
// id and reason travel on the wire; the worker re-reads the record itself.
func PublishSyncTask(ctx context.Context, task SyncTaskPayload) error {
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topicName := syncTopicName()
	topic := client.Topic(topicName)
	if envBoolDefault("CALSYNC_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	data, _ := json.Marshal(task)
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PubSubPushHandler accepts the push subscription delivery. Malformed
// deliveries are acked with 204 so the subscription never redelivers them.
func PubSubPushHandler(worker *Worker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("ENABLE_CALSYNC_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var task SyncTaskPayload
		if err := json.Unmarshal(envelope.Message.Data, &task); err != nil {
			c.Status(204)
			return
		}
		if task.RecordType == "" || task.RecordId == "" {
			c.Status(204)
			return
		}

		_ = worker.Process(c.Request.Context(), task)
		c.Status(204)
	}
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
