package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/katkisiz/api/internal/domain"
)

const alternativesMessageType = "alternatives.requested"

// AlternativesMessage is the JSON payload consumed by the alternatives worker.
type AlternativesMessage struct {
	Type        string    `json:"type"`
	AnalysisID  string    `json:"analysisId"`
	UserID      string    `json:"userId,omitempty"`
	Status      string    `json:"status"`
	Score       int       `json:"score"`
	Codes       []string  `json:"codes"`
	ProductName string    `json:"productName,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

// PubSubAlternativesPublisher publishes red-verdict products to a Pub/Sub topic.
type PubSubAlternativesPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubAlternativesPublisher constructs a Pub/Sub backed alternatives publisher.
func NewPubSubAlternativesPublisher(topic *pubsub.Topic) (*PubSubAlternativesPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub alternatives publisher: topic is required")
	}
	return &PubSubAlternativesPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishAlternatives enqueues the request and waits for the server-assigned message ID.
func (p *PubSubAlternativesPublisher) PublishAlternatives(ctx context.Context, req domain.AlternativesRequest) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub alternatives publisher: not initialised")
	}
	if strings.TrimSpace(req.AnalysisID) == "" {
		return "", errors.New("pubsub alternatives publisher: analysis id is required")
	}

	codes := req.Codes
	if codes == nil {
		codes = []string{}
	}
	data, err := p.marshal(AlternativesMessage{
		Type:        alternativesMessageType,
		AnalysisID:  req.AnalysisID,
		UserID:      req.UserID,
		Status:      string(req.Status),
		Score:       req.Score,
		Codes:       codes,
		ProductName: req.ProductName,
		RequestedAt: req.RequestedAt.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal alternatives request: %w", err)
	}

	attrs := map[string]string{
		"type":  alternativesMessageType,
		"score": strconv.Itoa(req.Score),
	}
	setAttr(attrs, "analysisId", req.AnalysisID)
	setAttr(attrs, "userId", req.UserID)
	setAttr(attrs, "status", string(req.Status))

	msg := &pubsub.Message{Data: data, Attributes: attrs}
	// Ordering keys are rejected by topics without message ordering.
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = req.AnalysisID
	}

	result := p.topic.Publish(ctx, msg)

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish alternatives request: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
