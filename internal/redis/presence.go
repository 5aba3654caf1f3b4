package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store mirrors who is online into Redis so other instances can read it.
// It never feeds back into live room or document state.
// Keys used:
// - <prefix>:conn:<userID>: set of connection ids
// - <prefix>:presence:<userID> -> json {status,last_seen,connections}
// Presence changes are also published on <prefix>:presence.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type Presence struct {
	UserID      string `json:"user_id"`
	Status      string `json:"status"`
	LastSeen    int64  `json:"last_seen"`
	Connections int64  `json:"connections"`
}

var ErrNoPresence = errors.New("no presence recorded")

func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func NewStore(r *redis.Client, prefix string, ttl time.Duration) *Store {
	return &Store{client: r, prefix: prefix, ttl: ttl}
}

func (s *Store) connKey(userID string) string { return fmt.Sprintf("%s:conn:%s", s.prefix, userID) }
func (s *Store) presenceKey(userID string) string { return fmt.Sprintf("%s:presence:%s", s.prefix, userID) }
func (s *Store) channel() string { return s.prefix + ":presence" }

// AddConnection records connID for userID and marks the user online.
func (s *Store) AddConnection(ctx context.Context, userID, connID string) error {
	key := s.connKey(userID)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, connID)
	pipe.Expire(ctx, key, s.ttl)
	card := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return s.setPresence(ctx, newPresence(userID, card.Val(), time.Now()), s.ttl)
}

// RemoveConnection drops connID; the user goes offline when none remain.
func (s *Store) RemoveConnection(ctx context.Context, userID, connID string) error {
	key := s.connKey(userID)
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, key, connID)
	card := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	ttl := s.ttl
	if card.Val() == 0 {
		// offline marker outlives the connection set so last_seen stays readable
		ttl = 0
	}
	return s.setPresence(ctx, newPresence(userID, card.Val(), time.Now()), ttl)
}

func (s *Store) GetPresence(ctx context.Context, userID string) (*Presence, error) {
	b, err := s.client.Get(ctx, s.presenceKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoPresence
		}
		return nil, err
	}
	var p Presence
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Publish broadcasts payload on channel for cross-instance listeners.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) setPresence(ctx context.Context, p Presence, ttl time.Duration) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.presenceKey(p.UserID), b, ttl).Err(); err != nil {
		return err
	}
	return s.Publish(ctx, s.channel(), b)
}

func newPresence(userID string, conns int64, at time.Time) Presence {
	status := "offline"
	if conns > 0 {
		status = "online"
	}
	return Presence{UserID: userID, Status: status, LastSeen: at.Unix(), Connections: conns}
}
