package agentgraph

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCheckpointNotFound is returned by Load/Latest when no checkpoint
// matches.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Checkpoint is a durable snapshot of one graph run, keyed by
// (ThreadID, CheckpointID).
type Checkpoint struct {
	ThreadID     string    `json:"thread_id"`
	CheckpointID string    `json:"checkpoint_id"`
	State        *State    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
}

// CheckpointStats summarizes the checkpoint population for diagnostics.
type CheckpointStats struct {
	TotalCheckpoints int `json:"total_checkpoints"`
	TotalThreads     int `json:"total_threads"`
}

// CheckpointStore is the single capability contract the graph depends on;
// it never checks which implementation is wired in.
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, threadID, checkpointID string) (Checkpoint, error)
	List(ctx context.Context, threadID string) ([]Checkpoint, error)
	Latest(ctx context.Context, threadID string) (Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, threadID, checkpointID string) error
	DeleteThread(ctx context.Context, threadID string) error
	Statistics(ctx context.Context) (CheckpointStats, error)
}

// MemoryCheckpointStore is the default, process-local checkpoint backend.
type MemoryCheckpointStore struct {
	mu    sync.RWMutex
	byThread map[string]map[string]Checkpoint
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{byThread: make(map[string]map[string]Checkpoint)}
}

func (m *MemoryCheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byThread[cp.ThreadID]; !ok {
		m.byThread[cp.ThreadID] = make(map[string]Checkpoint)
	}
	m.byThread[cp.ThreadID][cp.CheckpointID] = cp
	return nil
}

func (m *MemoryCheckpointStore) Load(ctx context.Context, threadID, checkpointID string) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	thread, ok := m.byThread[threadID]
	if !ok {
		return Checkpoint{}, ErrCheckpointNotFound
	}
	cp, ok := thread[checkpointID]
	if !ok {
		return Checkpoint{}, ErrCheckpointNotFound
	}
	return cp, nil
}

func (m *MemoryCheckpointStore) List(ctx context.Context, threadID string) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	thread, ok := m.byThread[threadID]
	if !ok {
		return nil, nil
	}
	out := make([]Checkpoint, 0, len(thread))
	for _, cp := range thread {
		out = append(out, cp)
	}
	return out, nil
}

func (m *MemoryCheckpointStore) Latest(ctx context.Context, threadID string) (Checkpoint, error) {
	all, _ := m.List(ctx, threadID)
	if len(all) == 0 {
		return Checkpoint{}, ErrCheckpointNotFound
	}
	latest := all[0]
	for _, cp := range all[1:] {
		if cp.CreatedAt.After(latest.CreatedAt) {
			latest = cp
		}
	}
	return latest, nil
}

func (m *MemoryCheckpointStore) DeleteCheckpoint(ctx context.Context, threadID, checkpointID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if thread, ok := m.byThread[threadID]; ok {
		delete(thread, checkpointID)
	}
	return nil
}

func (m *MemoryCheckpointStore) DeleteThread(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byThread, threadID)
	return nil
}

func (m *MemoryCheckpointStore) Statistics(ctx context.Context) (CheckpointStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, thread := range m.byThread {
		total += len(thread)
	}
	return CheckpointStats{TotalCheckpoints: total, TotalThreads: len(m.byThread)}, nil
}

var _ CheckpointStore = (*MemoryCheckpointStore)(nil)

// RedisCheckpointStore persists checkpoints with a TTL, for deployments
// that need graph state to survive a process restart.
type RedisCheckpointStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCheckpointStore(client *redis.Client, ttl time.Duration) *RedisCheckpointStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCheckpointStore{client: client, ttl: ttl}
}

func (r *RedisCheckpointStore) checkpointKey(threadID, checkpointID string) string {
	return "agentgraph:checkpoint:" + threadID + ":" + checkpointID
}

func (r *RedisCheckpointStore) threadIndexKey(threadID string) string {
	return "agentgraph:thread:" + threadID
}

func (r *RedisCheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.checkpointKey(cp.ThreadID, cp.CheckpointID), payload, r.ttl)
	pipe.SAdd(ctx, r.threadIndexKey(cp.ThreadID), cp.CheckpointID)
	pipe.Expire(ctx, r.threadIndexKey(cp.ThreadID), r.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisCheckpointStore) Load(ctx context.Context, threadID, checkpointID string) (Checkpoint, error) {
	payload, err := r.client.Get(ctx, r.checkpointKey(threadID, checkpointID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Checkpoint{}, ErrCheckpointNotFound
	}
	if err != nil {
		return Checkpoint{}, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

func (r *RedisCheckpointStore) List(ctx context.Context, threadID string) ([]Checkpoint, error) {
	ids, err := r.client.SMembers(ctx, r.threadIndexKey(threadID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := r.Load(ctx, threadID, id)
		if errors.Is(err, ErrCheckpointNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (r *RedisCheckpointStore) Latest(ctx context.Context, threadID string) (Checkpoint, error) {
	all, err := r.List(ctx, threadID)
	if err != nil {
		return Checkpoint{}, err
	}
	if len(all) == 0 {
		return Checkpoint{}, ErrCheckpointNotFound
	}
	latest := all[0]
	for _, cp := range all[1:] {
		if cp.CreatedAt.After(latest.CreatedAt) {
			latest = cp
		}
	}
	return latest, nil
}

func (r *RedisCheckpointStore) DeleteCheckpoint(ctx context.Context, threadID, checkpointID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.checkpointKey(threadID, checkpointID))
	pipe.SRem(ctx, r.threadIndexKey(threadID), checkpointID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisCheckpointStore) DeleteThread(ctx context.Context, threadID string) error {
	ids, err := r.client.SMembers(ctx, r.threadIndexKey(threadID)).Result()
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, r.checkpointKey(threadID, id))
	}
	pipe.Del(ctx, r.threadIndexKey(threadID))
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisCheckpointStore) Statistics(ctx context.Context) (CheckpointStats, error) {
	keys, err := r.client.Keys(ctx, "agentgraph:thread:*").Result()
	if err != nil {
		return CheckpointStats{}, err
	}
	total := 0
	for _, k := range keys {
		n, err := r.client.SCard(ctx, k).Result()
		if err != nil {
			continue
		}
		total += int(n)
	}
	return CheckpointStats{TotalCheckpoints: total, TotalThreads: len(keys)}, nil
}

var _ CheckpointStore = (*RedisCheckpointStore)(nil)
