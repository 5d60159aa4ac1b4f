package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"aegis/internal/audit"
)

// KafkaSink publishes audit entries to a Kafka topic, keyed by tenant scope
// so one tenant's entries land in one partition in order.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSink connects to the brokers and ensures the topic exists.
func NewKafkaSink(ctx context.Context, brokers []string, topic string) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopics(ctx, 6, 1, nil, topic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure topic %q: %w", topic, err)
	}
	for _, res := range resp.Sorted() {
		// An existing topic is the normal steady state.
		if res.Err != nil && !errors.Is(res.Err, kerr.TopicAlreadyExists) {
			client.Close()
			return nil, fmt.Errorf("create topic %q: %w", topic, res.Err)
		}
	}

	return &KafkaSink{client: client, topic: topic}, nil
}

// wireEntry is the JSON payload for external consumers.
type wireEntry struct {
	ID           string     `json:"id"`
	TenantType   string     `json:"tenant_type"`
	TenantID     string     `json:"tenant_id"`
	Seq          int64      `json:"seq"`
	Actor        string     `json:"actor"`
	Action       string     `json:"action"`
	Resource     string     `json:"resource"`
	ResourceID   string     `json:"resource_id,omitempty"`
	Outcome      string     `json:"outcome"`
	Reason       string     `json:"reason"`
	Completion   string     `json:"completion"`
	BeforeDigest string     `json:"before_digest,omitempty"`
	AfterDigest  string     `json:"after_digest,omitempty"`
	RecordedAt   time.Time  `json:"recorded_at"`
	FinalizedAt  *time.Time `json:"finalized_at,omitempty"`
	ChainHash    string     `json:"chain_hash"`
	CausalToken  string     `json:"causal_token,omitempty"`
	RequestID    string     `json:"request_id,omitempty"`
}

func (s *KafkaSink) Publish(ctx context.Context, entries []*audit.Entry) error {
	records := make([]*kgo.Record, 0, len(entries))
	for _, entry := range entries {
		wire := wireEntry{
			ID:           entry.ID.String(),
			TenantType:   string(entry.Scope.Type),
			TenantID:     entry.Scope.ID,
			Seq:          entry.Seq,
			Actor:        entry.Actor.String(),
			Action:       string(entry.Action),
			Resource:     string(entry.Resource),
			ResourceID:   entry.ResourceID,
			Outcome:      string(entry.Outcome),
			Reason:       string(entry.Reason),
			Completion:   string(entry.Completion),
			BeforeDigest: entry.BeforeDigest,
			AfterDigest:  entry.AfterDigest,
			RecordedAt:   entry.RecordedAt,
			FinalizedAt:  entry.FinalizedAt,
			ChainHash:    entry.ChainHash,
			RequestID:    entry.RequestID,
		}
		if !entry.CausalToken.IsNil() {
			wire.CausalToken = entry.CausalToken.String()
		}
		payload, err := json.Marshal(wire)
		if err != nil {
			return fmt.Errorf("marshal audit entry %s: %w", entry.ID.String(), err)
		}
		records = append(records, &kgo.Record{
			Key:   []byte(entry.Scope.Key()),
			Value: payload,
		})
	}

	if err := s.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce audit batch: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() {
	s.client.Close()
}
