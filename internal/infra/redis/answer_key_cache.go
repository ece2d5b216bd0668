package redis

import (
	"context"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ayoubkefii/e-learning/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// AnswerKeyLoader fetches answer keys from a backing store.
type AnswerKeyLoader interface {
	LoadAnswerKey(ctx context.Context, quizID int64) (domain.AnswerKey, error)
}

// AnswerKeyCache caches answer keys in Redis and falls back to a loader on a miss.
// Each quiz is stored as three hashes:
//
//	HSET quiz:{quizID}:meta    course_id .. title .. passing_score .. order {q1,q2,...} option_count {n}
//	HSET quiz:{quizID}:points  {questionID} {points}
//	HSET quiz:{quizID}:options {answerID} {questionID}:{0|1}
type AnswerKeyCache struct {
	client *redis.Client
	loader AnswerKeyLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewAnswerKeyCache(client *redis.Client, loader AnswerKeyLoader, ttl time.Duration) *AnswerKeyCache {
	return &AnswerKeyCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *AnswerKeyCache) GetAnswerKey(ctx context.Context, quizID int64) (domain.AnswerKey, error) {
	if key, ok := c.readCache(ctx, quizID); ok {
		return key, nil
	}

	result, err, _ := c.sf.Do(strconv.FormatInt(quizID, 10), func() (interface{}, error) {
		// Shared by every waiter; detached from the first caller's cancellation.
		loadCtx := context.WithoutCancel(ctx)

		// Re-check cache in case another caller filled it.
		if key, ok := c.readCache(loadCtx, quizID); ok {
			return key, nil
		}

		key, err := c.loader.LoadAnswerKey(loadCtx, quizID)
		if err != nil {
			return domain.AnswerKey{}, err
		}
		c.writeCache(loadCtx, key)
		return key, nil
	})
	if err != nil {
		return domain.AnswerKey{}, err
	}
	return result.(domain.AnswerKey), nil
}

// Invalidate drops the cached key for a quiz.
func (c *AnswerKeyCache) Invalidate(ctx context.Context, quizID int64) error {
	return c.client.Del(ctx, c.metaKey(quizID), c.pointsKey(quizID), c.optionsKey(quizID)).Err()
}

func (c *AnswerKeyCache) readCache(ctx context.Context, quizID int64) (domain.AnswerKey, bool) {
	var metaCmd, pointsCmd, optionsCmd *redis.MapStringStringCmd
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		metaCmd = pipe.HGetAll(ctx, c.metaKey(quizID))
		pointsCmd = pipe.HGetAll(ctx, c.pointsKey(quizID))
		optionsCmd = pipe.HGetAll(ctx, c.optionsKey(quizID))
		return nil
	})
	if err != nil {
		return domain.AnswerKey{}, false
	}
	meta := metaCmd.Val()
	if len(meta) == 0 {
		return domain.AnswerKey{}, false
	}
	return buildKeyFromCache(quizID, meta, pointsCmd.Val(), optionsCmd.Val())
}

func (c *AnswerKeyCache) writeCache(ctx context.Context, key domain.AnswerKey) {
	quizID := key.Quiz.ID
	order := make([]string, 0, len(key.Questions))
	points := make(map[string]interface{}, len(key.Questions))
	options := make(map[string]interface{})
	for _, q := range key.Questions {
		qid := strconv.FormatInt(q.ID, 10)
		order = append(order, qid)
		points[qid] = q.Weight()
		for _, opt := range q.Options {
			flag := "0"
			if opt.Correct {
				flag = "1"
			}
			options[strconv.FormatInt(opt.ID, 10)] = qid + ":" + flag
		}
	}

	ttl := c.ttlWithJitter()
	// Best effort: a failed write only costs a reload next time.
	_, _ = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.metaKey(quizID), c.pointsKey(quizID), c.optionsKey(quizID))
		pipe.HSet(ctx, c.metaKey(quizID), map[string]interface{}{
			"course_id":     key.Quiz.CourseID,
			"title":         key.Quiz.Title,
			"passing_score": key.Quiz.PassingScore,
			"order":         strings.Join(order, ","),
		})
		if len(points) > 0 {
			pipe.HSet(ctx, c.pointsKey(quizID), points)
		}
		if len(options) > 0 {
			pipe.HSet(ctx, c.optionsKey(quizID), options)
		}
		if ttl > 0 {
			pipe.Expire(ctx, c.metaKey(quizID), ttl)
			pipe.Expire(ctx, c.pointsKey(quizID), ttl)
			pipe.Expire(ctx, c.optionsKey(quizID), ttl)
		}
		return nil
	})
}

func (c *AnswerKeyCache) metaKey(quizID int64) string {
	return "quiz:" + strconv.FormatInt(quizID, 10) + ":meta"
}

func (c *AnswerKeyCache) pointsKey(quizID int64) string {
	return "quiz:" + strconv.FormatInt(quizID, 10) + ":points"
}

func (c *AnswerKeyCache) optionsKey(quizID int64) string {
	return "quiz:" + strconv.FormatInt(quizID, 10) + ":options"
}

// buildKeyFromCache rebuilds an answer key; any malformed or partial field counts as a miss.
// The hashes expire and get evicted independently, so a missing points entry or an
// option count that disagrees with meta means one of them is gone.
// Question types are not cached in this lightweight form.
func buildKeyFromCache(quizID int64, meta, points, options map[string]string) (domain.AnswerKey, bool) {
	courseID, err := strconv.ParseInt(meta["course_id"], 10, 64)
	if err != nil {
		return domain.AnswerKey{}, false
	}
	passing, err := strconv.Atoi(meta["passing_score"])
	if err != nil {
		return domain.AnswerKey{}, false
	}
	optionCount, err := strconv.Atoi(meta["option_count"])
	if err != nil || optionCount != len(options) {
		return domain.AnswerKey{}, false
	}
	key := domain.AnswerKey{
		Quiz: domain.Quiz{ID: quizID, CourseID: courseID, Title: meta["title"], PassingScore: passing},
	}

	index := make(map[int64]int)
	if order := meta["order"]; order != "" {
		for _, raw := range strings.Split(order, ",") {
			qid, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return domain.AnswerKey{}, false
			}
			rawPoints, ok := points[raw]
			if !ok {
				return domain.AnswerKey{}, false
			}
			p, err := strconv.Atoi(rawPoints)
			if err != nil {
				return domain.AnswerKey{}, false
			}
			index[qid] = len(key.Questions)
			key.Questions = append(key.Questions, domain.Question{ID: qid, QuizID: quizID, Points: p})
		}
	}

	for rawID, value := range options {
		optID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			return domain.AnswerKey{}, false
		}
		rawQID, flag, ok := strings.Cut(value, ":")
		if !ok {
			return domain.AnswerKey{}, false
		}
		qid, err := strconv.ParseInt(rawQID, 10, 64)
		if err != nil {
			return domain.AnswerKey{}, false
		}
		i, ok := index[qid]
		if !ok {
			return domain.AnswerKey{}, false
		}
		key.Questions[i].Options = append(key.Questions[i].Options, domain.Option{
			ID:         optID,
			QuestionID: qid,
			Correct:    flag == "1",
		})
	}
	for i := range key.Questions {
		opts := key.Questions[i].Options
		sort.Slice(opts, func(a, b int) bool { return opts[a].ID < opts[b].ID })
	}
	return key, true
}

func (c *AnswerKeyCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
