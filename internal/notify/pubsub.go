package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// PubSubProvider publishes completion notifications to a Google Cloud
// Pub/Sub topic. It authenticates using Application Default Credentials.
type PubSubProvider struct {
	Client *pubsub.Client
	Topic  *pubsub.Topic
	Logger *zap.Logger
}

// NewPubSubProvider creates a Pub/Sub client and verifies the topic exists.
func NewPubSubProvider(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*PubSubProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after existence check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after missing topic", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}
	return &PubSubProvider{Client: client, Topic: topic, Logger: logger}, nil
}

// NotifyCompletion marshals the completion to JSON and publishes it,
// waiting for the server acknowledgement so the caller knows the
// notification went out before the process exits.
func (p *PubSubProvider) NotifyCompletion(ctx context.Context, c Completion) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal completion: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run":   c.Run,
			"event": "run_complete",
		},
	}
	id, err := p.Topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish completion: %w", err)
	}
	if p.Logger != nil {
		p.Logger.Info("published completion notification",
			zap.String("run", c.Run),
			zap.String("message_id", id),
		)
	}
	return nil
}

// Close stops the topic's publisher and closes the client connection.
func (p *PubSubProvider) Close() error {
	p.Topic.Stop()
	if err := p.Client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
