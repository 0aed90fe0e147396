package syncengine

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"bitbucket.org/stayshield/disputes_backend/config"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
)

type PubSubPushEnvelope struct {
	Message struct {
		Data      []byte `json:"data"`
		MessageId string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func syncTopicName() string {
	topicName := strings.TrimSpace(os.Getenv("PMS_SYNC_TOPIC"))
	if topicName == "" {
		topicName = "pms-sync"
	}
	return topicName
}

// PublishSyncRun hands a sync job to Pub/Sub for the push endpoint to
// execute, decoupling manual triggers from the API instance's queue.
func PublishSyncRun(ctx context.Context, job Job) error {
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topicName := syncTopicName()
	topic := client.Topic(topicName)
	if envBoolDefault("PMS_SYNC_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	data, _ := json.Marshal(job)
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PubSubPushHandler runs a pushed sync job inline. Malformed payloads are
// acked with 204 so Pub/Sub stops redelivering them.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("ENABLE_SYNC_PUBSUB_PUSH_ENDPOINT", true) {
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

		var job Job
		if err := json.Unmarshal(envelope.Message.Data, &job); err != nil {
			c.Status(204)
			return
		}
		if job.IntegrationId == 0 || job.PropertyId == "" {
			c.Status(204)
			return
		}

		RunSyncJob(c.Request.Context(), job)
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
