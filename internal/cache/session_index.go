package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	redisv9 "github.com/redis/go-redis/v9"

	"graderbot/internal/model"
)

// SessionIndex stores upload sessions in redis so they survive a restart of
// the server. The CSV files themselves stay on local disk.
type SessionIndex struct {
	client *redisv9.Client
	prefix string
}

func NewSessionIndex(client *redisv9.Client, prefix string) *SessionIndex {
	if prefix == "" {
		prefix = "grader"
	}
	return &SessionIndex{client: client, prefix: prefix}
}

func (c *SessionIndex) Create(ctx context.Context, session *model.FileSession) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("redis create session failed: empty id")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session failed: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.sessionKey(session.ID), payload, 0)
	pipe.SAdd(ctx, c.setKey(), session.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis create session failed: %w", err)
	}
	return nil
}

// Get returns nil, nil for an unknown id.
func (c *SessionIndex) Get(ctx context.Context, id string) (*model.FileSession, error) {
	raw, err := c.client.Get(ctx, c.sessionKey(id)).Result()
	if err == redisv9.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session failed: %w", err)
	}

	var session model.FileSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("unmarshal session failed: %w", err)
	}
	return &session, nil
}

func (c *SessionIndex) Delete(ctx context.Context, id string) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, c.sessionKey(id))
	pipe.SRem(ctx, c.setKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete session failed: %w", err)
	}
	return nil
}

// List returns sessions oldest first. Ids whose value has vanished are
// dropped from the set.
func (c *SessionIndex) List(ctx context.Context) ([]model.FileSession, error) {
	ids, err := c.client.SMembers(ctx, c.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list sessions failed: %w", err)
	}

	out := make([]model.FileSession, 0, len(ids))
	for _, id := range ids {
		session, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if session == nil {
			_ = c.client.SRem(ctx, c.setKey(), id).Err()
			continue
		}
		out = append(out, *session)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (c *SessionIndex) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", c.prefix, id)
}

func (c *SessionIndex) setKey() string {
	return c.prefix + ":sessions"
}
