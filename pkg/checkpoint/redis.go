package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const backendRedis = "redis"

// Hash fields of a Redis artifact.
const (
	fieldContent = "content"
	fieldModel   = "model"
	fieldFailed  = "failed"
	fieldTotal   = "total"
)

// RedisStore keeps one hash per index under digest:<namespace>:<padded>
// and the set of written indices under digest:<namespace>:indices.
type RedisStore struct {
	redis     *redis.Client
	namespace string
	total     int
}

// NewRedisStore creates a Redis store. namespace separates batches that
// share a Redis database.
func NewRedisStore(redisClient *redis.Client, namespace string, total int) (*RedisStore, error) {
	if redisClient == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return nil, errors.New("namespace is required")
	}
	if total < 1 {
		return nil, fmt.Errorf("total must be >= 1 (got %d)", total)
	}
	return &RedisStore{redis: redisClient, namespace: namespace, total: total}, nil
}

func (s *RedisStore) key(index int) string {
	return Key{Index: index, Total: s.total}.RedisKey(s.namespace)
}

func (s *RedisStore) indexSet() string {
	return fmt.Sprintf("digest:%s:indices", s.namespace)
}

// Exists reports whether the hash of index exists.
func (s *RedisStore) Exists(ctx context.Context, index int) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(index)).Result()
	if err != nil {
		CheckpointErrors.WithLabelValues(backendRedis, "exists").Inc()
		return false, fmt.Errorf("redis exists: %w", err)
	}
	if n > 0 {
		CheckpointHits.WithLabelValues(backendRedis).Inc()
	}
	return n > 0, nil
}

// Write replaces the hash of the artifact and records its index in one
// MULTI/EXEC transaction.
func (s *RedisStore) Write(ctx context.Context, a Artifact) error {
	if err := a.Validate(s.total); err != nil {
		return err
	}

	key := s.key(a.Index)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldContent, a.Content,
			fieldModel, a.Model,
			fieldFailed, strconv.FormatBool(a.Failed),
			fieldTotal, strconv.Itoa(s.total),
		)
		pipe.SAdd(ctx, s.indexSet(), a.Index)
		return nil
	})
	if err != nil {
		CheckpointErrors.WithLabelValues(backendRedis, "write").Inc()
		return fmt.Errorf("redis write artifact %d: %w", a.Index, err)
	}

	CheckpointWrites.WithLabelValues(backendRedis).Inc()
	CheckpointBytes.WithLabelValues(backendRedis).Add(float64(len(a.Content)))
	return nil
}

// Read returns the artifact of index, or ErrNotFound.
func (s *RedisStore) Read(ctx context.Context, index int) (*Artifact, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(index)).Result()
	if err != nil {
		CheckpointErrors.WithLabelValues(backendRedis, "read").Inc()
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	content, ok := fields[fieldContent]
	if !ok {
		CheckpointErrors.WithLabelValues(backendRedis, "read").Inc()
		return nil, fmt.Errorf("%w: index %d has no content field", ErrInvalidArtifact, index)
	}
	failed, _ := strconv.ParseBool(fields[fieldFailed])

	return &Artifact{
		Index:   index,
		Total:   s.total,
		Content: content,
		Model:   fields[fieldModel],
		Failed:  failed || IsFailure(content),
	}, nil
}

// Clear deletes every artifact hash of the namespace and the index set.
func (s *RedisStore) Clear(ctx context.Context) error {
	indices, err := s.Indices(ctx)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(indices)+1)
	for _, i := range indices {
		keys = append(keys, s.key(i))
	}
	keys = append(keys, s.indexSet())

	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		CheckpointErrors.WithLabelValues(backendRedis, "clear").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Indices returns the recorded indices, ascending.
func (s *RedisStore) Indices(ctx context.Context) ([]int, error) {
	members, err := s.redis.SMembers(ctx, s.indexSet()).Result()
	if err != nil {
		CheckpointErrors.WithLabelValues(backendRedis, "indices").Inc()
		return nil, fmt.Errorf("redis smembers: %w", err)
	}

	out := make([]int, 0, len(members))
	for _, m := range members {
		n, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}
