package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"

	"github.com/tournament-engine/internal/config"
)

// Relay is the session-scoped publish/subscribe topic. Each published
// message gets a per-session sequence number, is appended to a Redis
// list (the replayable event log), fanned out over Redis Pub/Sub to
// every server node, and mirrored to the Kafka audit topic for
// settlement arbitration. Fan-out is best effort; the log is what makes
// a dropped one-shot message recoverable.
type Relay struct {
	client    *redis.Client
	producer  sarama.AsyncProducer
	topic     string
	retention time.Duration
	logger    *slog.Logger
}

// NewRelay creates a relay on an existing Redis client. producer may be
// nil when the Kafka audit stream is disabled.
func NewRelay(client *redis.Client, producer sarama.AsyncProducer, cfg *config.Config, logger *slog.Logger) *Relay {
	return &Relay{
		client:    client,
		producer:  producer,
		topic:     cfg.Kafka.Topic,
		retention: cfg.Game.EventRetention,
		logger:    logger,
	}
}

func (r *Relay) seqKey(sessionID string) string {
	return fmt.Sprintf("session:%s:seq", sessionID)
}

func (r *Relay) logKey(sessionID string) string {
	return fmt.Sprintf("session:%s:events", sessionID)
}

func (r *Relay) pubsubChannel(sessionID string) string {
	return fmt.Sprintf("session:%s:topic", sessionID)
}

// Publish assigns the next sequence number, appends the message to the
// session log and fans it out. Returns the stamped envelope.
func (r *Relay) Publish(ctx context.Context, env Envelope) (Envelope, error) {
	seq, err := r.client.Incr(ctx, r.seqKey(env.SessionID)).Result()
	if err != nil {
		return Envelope{}, fmt.Errorf("assigning sequence: %w", err)
	}
	env.Seq = seq

	data, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding envelope: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.RPush(ctx, r.logKey(env.SessionID), data)
	pipe.Expire(ctx, r.logKey(env.SessionID), r.retention)
	pipe.Expire(ctx, r.seqKey(env.SessionID), r.retention)
	pipe.Publish(ctx, r.pubsubChannel(env.SessionID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return Envelope{}, fmt.Errorf("appending to session log: %w", err)
	}

	r.mirrorToKafka(env.SessionID, data)
	return env, nil
}

// mirrorToKafka forwards the event to the audit topic, fire and forget.
func (r *Relay) mirrorToKafka(sessionID string, data []byte) {
	if r.producer == nil {
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: r.topic,
		Key:   sarama.StringEncoder(sessionID),
		Value: sarama.ByteEncoder(data),
	}
	select {
	case r.producer.Input() <- msg:
	default:
		r.logger.Warn("kafka producer buffer full, dropping audit event", "session_id", sessionID)
	}
}

// Replay returns every archived message with a sequence number greater
// than since, in sequence order. Sequence numbers start at 1, so
// since=0 replays the whole session. The log is read in full and
// filtered on the stamped sequence: INCR and RPUSH run in separate
// round trips, so concurrent publishers can land in the list out of
// sequence order and list position cannot be trusted.
func (r *Relay) Replay(ctx context.Context, sessionID string, since int64) ([]Envelope, error) {
	if since < 0 {
		since = 0
	}
	raw, err := r.client.LRange(ctx, r.logKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading session log: %w", err)
	}
	return r.decodeLog(sessionID, raw, since), nil
}

// decodeLog decodes raw log entries, keeps those with Seq > since and
// sorts them by sequence. Corrupt entries are skipped with a warning.
func (r *Relay) decodeLog(sessionID string, raw []string, since int64) []Envelope {
	envs := make([]Envelope, 0, len(raw))
	for _, item := range raw {
		var env Envelope
		if err := json.Unmarshal([]byte(item), &env); err != nil {
			r.logger.Warn("skipping corrupt log entry", "session_id", sessionID, "error", err)
			continue
		}
		if env.Seq > since {
			envs = append(envs, env)
		}
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].Seq < envs[j].Seq })
	return envs
}

// Subscribe opens the session's Pub/Sub channel. The caller owns the
// subscription and must Close it.
func (r *Relay) Subscribe(ctx context.Context, sessionID string) *redis.PubSub {
	return r.client.Subscribe(ctx, r.pubsubChannel(sessionID))
}

// DropSession removes the session's log and sequence counter, used once
// a session reaches a terminal state and its retention expires early.
func (r *Relay) DropSession(ctx context.Context, sessionID string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.logKey(sessionID))
	pipe.Del(ctx, r.seqKey(sessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dropping session log: %w", err)
	}
	return nil
}
