package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/ayoubkefii/e-learning/internal/domain"
	"golang.org/x/sync/singleflight"
)

// AnswerKeyLoader fetches answer keys from a backing store.
type AnswerKeyLoader interface {
	LoadAnswerKey(ctx context.Context, quizID int64) (domain.AnswerKey, error)
}

// AnswerKeyCache caches answer keys with TTL to avoid repeated DB hits.
// It never caches attempt state.
type AnswerKeyCache struct {
	loader AnswerKeyLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.Mutex
	rnd   *rand.Rand
	cache map[int64]cachedKey
}

type cachedKey struct {
	key       domain.AnswerKey
	expiresAt time.Time
}

func NewAnswerKeyCache(loader AnswerKeyLoader, ttl time.Duration) *AnswerKeyCache {
	return &AnswerKeyCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[int64]cachedKey),
	}
}

func (c *AnswerKeyCache) GetAnswerKey(ctx context.Context, quizID int64) (domain.AnswerKey, error) {
	if key, ok := c.lookup(quizID); ok {
		return key, nil
	}

	result, err, _ := c.sf.Do(strconv.FormatInt(quizID, 10), func() (interface{}, error) {
		if key, ok := c.lookup(quizID); ok {
			return key, nil
		}

		// Shared by every waiter; detached from the first caller's cancellation.
		key, err := c.loader.LoadAnswerKey(context.WithoutCancel(ctx), quizID)
		if err != nil {
			return domain.AnswerKey{}, err
		}

		c.mu.Lock()
		c.cache[quizID] = cachedKey{
			key:       key,
			expiresAt: c.clock().Add(c.ttlWithJitterLocked()),
		}
		c.mu.Unlock()
		return key, nil
	})
	if err != nil {
		return domain.AnswerKey{}, err
	}
	return result.(domain.AnswerKey), nil
}

// Invalidate drops a cached key, e.g. after the quiz was edited.
func (c *AnswerKeyCache) Invalidate(quizID int64) {
	c.mu.Lock()
	delete(c.cache, quizID)
	c.mu.Unlock()
}

func (c *AnswerKeyCache) lookup(quizID int64) (domain.AnswerKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[quizID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.AnswerKey{}, false
	}
	return entry.key, true
}

func (c *AnswerKeyCache) ttlWithJitterLocked() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticAnswerKeyLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticAnswerKeyLoader struct {
	keys map[int64]domain.AnswerKey
}

func NewStaticAnswerKeyLoader(keys map[int64]domain.AnswerKey) *StaticAnswerKeyLoader {
	return &StaticAnswerKeyLoader{keys: keys}
}

func (l *StaticAnswerKeyLoader) LoadAnswerKey(_ context.Context, quizID int64) (domain.AnswerKey, error) {
	if key, ok := l.keys[quizID]; ok {
		return key, nil
	}
	return domain.AnswerKey{}, domain.ErrQuizNotFound
}

// GetAnswerKey lets the static loader serve as an uncached repository.
func (l *StaticAnswerKeyLoader) GetAnswerKey(ctx context.Context, quizID int64) (domain.AnswerKey, error) {
	return l.LoadAnswerKey(ctx, quizID)
}
