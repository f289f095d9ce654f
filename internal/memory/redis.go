package memory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisConfig captures connection options for the memory redis.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	cfg := c
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	return cfg
}

// NewRedisClient builds a go-redis client from cfg.
func NewRedisClient(cfg RedisConfig) *goredis.Client {
	cfg = cfg.withDefaults()
	return goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

// executor is the subset of the redis client the store needs.
type executor interface {
	Do(ctx context.Context, args ...any) *goredis.Cmd
}

type RedisStore struct {
	exec executor
}

func NewRedisStore(exec executor) *RedisStore {
	return &RedisStore{exec: exec}
}

func (s *RedisStore) Load(ctx context.Context, botID string) (*Memory, error) {
	raw, err := s.exec.Do(ctx, "GET", Key(botID)).Text()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m Memory
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *RedisStore) Save(ctx context.Context, botID string, m *Memory) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.exec.Do(ctx, "SET", Key(botID), string(data)).Err()
}
