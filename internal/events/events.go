package events

import (
	"context"
	"encoding/json"
)

// TopicImageUploaded carries notifications for freshly attached recipe
// images, consumed by downstream processors (thumbnailing, moderation).
const TopicImageUploaded = "recipe-image-uploaded"

// ImageUploaded is the payload published after an image attach commits.
type ImageUploaded struct {
	RecipeID    int64  `json:"recipe_id"`
	UserID      int64  `json:"user_id"`
	ImagePath   string `json:"image_path"`
	ContentType string `json:"content_type"`
}

// Backend defines the broker-agnostic publish operation.
type Backend interface {
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error)
	Close() error
}

// Publisher wraps a backend and knows how to encode domain events.
type Publisher struct {
	backend Backend
}

// NewPublisher constructs a Publisher for the provided backend.
func NewPublisher(backend Backend) *Publisher {
	return &Publisher{backend: backend}
}

// ImageUploaded publishes an image-uploaded event.
func (p *Publisher) ImageUploaded(ctx context.Context, event ImageUploaded) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return p.backend.Publish(ctx, TopicImageUploaded, data, map[string]string{
		"content_type": event.ContentType,
	})
}

// Close closes the underlying backend.
func (p *Publisher) Close() error {
	return p.backend.Close()
}
