// Package session persists live editing sessions in redis so that
// uncommitted working state survives an api restart.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quill/api/internal/revision"
	"quill/api/internal/trackchanges"
)

// DefaultTTL is how long an idle session sticks around before redis
// drops it. Every save refreshes the clock.
const DefaultTTL = 7 * 24 * time.Hour

var ErrNotFound = errors.New("session not found")

// reviewingState is the serializable form of revision.Reviewing.
type reviewingState struct {
	PendingContent string `json:"pendingContent"`
	Source         string `json:"source"`
	Model          string `json:"model"`
}

// workingState flattens revision.Working for JSON. The review sum type
// collapses to a nullable pointer on the wire.
type workingState struct {
	SectionID        string                  `json:"sectionId"`
	CurrentVersionID string                  `json:"currentVersionId"`
	Base             string                  `json:"base"`
	StartedAt        time.Time               `json:"startedAt"`
	Content          string                  `json:"content"`
	Notes            string                  `json:"notes,omitempty"`
	Events           trackchanges.Log        `json:"events"`
	LastLLMContent   *string                 `json:"lastLlmContent,omitempty"`
	Reviewing        *reviewingState         `json:"reviewing,omitempty"`
	Lock             *revision.SelectionLock `json:"lock,omitempty"`
}

func encodeWorking(w revision.Working) workingState {
	state := workingState{
		SectionID:        w.SectionID,
		CurrentVersionID: w.CurrentVersionID,
		Base:             w.Base,
		StartedAt:        w.StartedAt,
		Content:          w.Content,
		Notes:            w.Notes,
		Events:           w.Events,
		LastLLMContent:   w.LastLLMContent,
		Lock:             w.Lock,
	}
	if reviewing, ok := w.Review.(revision.Reviewing); ok {
		state.Reviewing = &reviewingState{
			PendingContent: reviewing.PendingContent,
			Source:         reviewing.Source,
			Model:          reviewing.Model,
		}
	}
	return state
}

func (state workingState) working() revision.Working {
	w := revision.Working{
		SectionID:        state.SectionID,
		CurrentVersionID: state.CurrentVersionID,
		Base:             state.Base,
		StartedAt:        state.StartedAt,
		Content:          state.Content,
		Notes:            state.Notes,
		Events:           state.Events,
		LastLLMContent:   state.LastLLMContent,
		Lock:             state.Lock,
		Review:           revision.Live{},
	}
	if state.Reviewing != nil {
		w.Review = revision.Reviewing{
			PendingContent: state.Reviewing.PendingContent,
			Source:         state.Reviewing.Source,
			Model:          state.Reviewing.Model,
		}
	}
	return w
}

// RedisStore keeps one working-state snapshot per section.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "working:",
		ttl:    DefaultTTL,
	}
}

func (s *RedisStore) key(sectionID string) string {
	return s.prefix + sectionID
}

// SaveWorking snapshots the session and refreshes its TTL.
func (s *RedisStore) SaveWorking(ctx context.Context, w revision.Working) error {
	payload, err := json.Marshal(encodeWorking(w))
	if err != nil {
		return fmt.Errorf("marshal working state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(w.SectionID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save working state: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadWorking(ctx context.Context, sectionID string) (revision.Working, error) {
	payload, err := s.client.Get(ctx, s.key(sectionID)).Result()
	if errors.Is(err, redis.Nil) {
		return revision.Working{}, ErrNotFound
	}
	if err != nil {
		return revision.Working{}, fmt.Errorf("load working state: %w", err)
	}
	var state workingState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return revision.Working{}, fmt.Errorf("unmarshal working state: %w", err)
	}
	return state.working(), nil
}

// DropWorking removes the snapshot, typically after the session was
// committed as a version.
func (s *RedisStore) DropWorking(ctx context.Context, sectionID string) error {
	if err := s.client.Del(ctx, s.key(sectionID)).Err(); err != nil {
		return fmt.Errorf("drop working state: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
