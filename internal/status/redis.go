package status

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisKey = "udm:client_count"
	DefaultRedisTTL = time.Hour
)

// RedisConfig describes the optional control-plane Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient returns a small, tightly bounded client; the mirror writes one key per iteration.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     2,
		MinIdleConns: 0,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

type redisSetter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisMirror stores the record in the shape the control plane's webhook handler keeps
// under udm:client_count, so its /udm/status and /udm/count endpoints see fresh data.
type RedisMirror struct {
	client redisSetter
	key    string
	ttl    time.Duration
}

// NewRedisMirror wraps any client exposing SET.
func NewRedisMirror(client redisSetter, key string, ttl time.Duration) *RedisMirror {
	if key == "" {
		key = DefaultRedisKey
	}
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisMirror{client: client, key: key, ttl: ttl}
}

type controlPlaneRecord struct {
	ClientCount int     `json:"clientCount"`
	Threshold   int     `json:"threshold"`
	Timestamp   string  `json:"timestamp"`
	LastUpdate  int64   `json:"lastUpdate"`
	Status      string  `json:"status"`
	LastState   *string `json:"lastState"`
}

func levelFor(count, threshold int) string {
	switch {
	case count > threshold:
		return "HIGH"
	case count < threshold:
		return "LOW"
	default:
		return "NORMAL"
	}
}

func (m *RedisMirror) Publish(ctx context.Context, rec Record) error {
	sec := int64(rec.Timestamp)
	at := time.Unix(sec, int64((rec.Timestamp-float64(sec))*float64(time.Second))).UTC()
	payload, err := json.Marshal(controlPlaneRecord{
		ClientCount: rec.ClientCount,
		Threshold:   rec.Threshold,
		Timestamp:   at.Format(time.RFC3339Nano),
		LastUpdate:  at.UnixMilli(),
		Status:      levelFor(rec.ClientCount, rec.Threshold),
		LastState:   rec.LastState,
	})
	if err != nil {
		return fmt.Errorf("encode redis record: %w", err)
	}
	if err := m.client.Set(ctx, m.key, payload, m.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", m.key, err)
	}
	return nil
}
