package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ayoubkefii/e-learning/internal/app"
	"github.com/ayoubkefii/e-learning/internal/domain"
)

// Store is an in-memory implementation of app.UnitOfWork.
// Units of work run one at a time against a staged copy of the data, which
// is published only when the work succeeds and its context is still live.
type Store struct {
	mu    sync.Mutex
	state state
}

type state struct {
	nextAttemptID     int64
	nextCertificateID int64
	attempts          map[int64]domain.Attempt
	answers           []domain.RecordedAnswer
	certificates      []domain.Certificate
}

func NewStore() *Store {
	return &Store{state: state{attempts: make(map[int64]domain.Attempt)}}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, stores app.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return domain.StorageFailure("begin unit of work", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	t := &tx{state: &staged}
	if err := fn(ctx, app.Stores{Attempts: t, Certificates: t}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.StorageFailure("commit unit of work", err)
	}
	s.state = staged
	return nil
}

func (st state) clone() state {
	out := state{
		nextAttemptID:     st.nextAttemptID,
		nextCertificateID: st.nextCertificateID,
		attempts:          make(map[int64]domain.Attempt, len(st.attempts)),
		answers:           append([]domain.RecordedAnswer(nil), st.answers...),
		certificates:      append([]domain.Certificate(nil), st.certificates...),
	}
	for id, attempt := range st.attempts {
		out.attempts[id] = attempt
	}
	return out
}

// tx implements the attempt and certificate stores over a staged state.
type tx struct {
	state *state
}

func (t *tx) FindOpenAttempt(_ context.Context, userID, quizID int64) (domain.Attempt, bool, error) {
	for _, attempt := range t.state.attempts {
		if attempt.UserID == userID && attempt.QuizID == quizID && attempt.Open() {
			return attempt, true, nil
		}
	}
	return domain.Attempt{}, false, nil
}

func (t *tx) CreateAttempt(ctx context.Context, userID, quizID int64, startedAt time.Time) (domain.Attempt, bool, error) {
	if _, open, _ := t.FindOpenAttempt(ctx, userID, quizID); open {
		return domain.Attempt{}, false, nil
	}
	t.state.nextAttemptID++
	attempt := domain.Attempt{
		ID:        t.state.nextAttemptID,
		UserID:    userID,
		QuizID:    quizID,
		StartedAt: startedAt,
	}
	t.state.attempts[attempt.ID] = attempt
	return attempt, true, nil
}

func (t *tx) LoadAttemptForUser(_ context.Context, attemptID, userID int64) (domain.Attempt, error) {
	attempt, ok := t.state.attempts[attemptID]
	if !ok || attempt.UserID != userID {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt, nil
}

func (t *tx) RecordAnswers(_ context.Context, answers []domain.RecordedAnswer) error {
	for _, answer := range answers {
		for _, existing := range t.state.answers {
			if existing.AttemptID == answer.AttemptID && existing.QuestionID == answer.QuestionID {
				return domain.StorageFailure("record answers",
					fmt.Errorf("duplicate answer for attempt %d question %d", answer.AttemptID, answer.QuestionID))
			}
		}
		t.state.answers = append(t.state.answers, answer)
	}
	return nil
}

func (t *tx) CloseAttempt(_ context.Context, attemptID int64, score int, passed bool, completedAt time.Time) (domain.Attempt, error) {
	attempt, ok := t.state.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if !attempt.Open() {
		return domain.Attempt{}, domain.ErrAttemptClosed
	}
	attempt.Score = &score
	attempt.Passed = passed
	attempt.CompletedAt = &completedAt
	t.state.attempts[attemptID] = attempt
	return attempt, nil
}

func (t *tx) ListAttempts(_ context.Context, userID, quizID int64) ([]domain.AttemptSummary, error) {
	summaries := make([]domain.AttemptSummary, 0)
	for _, attempt := range t.state.attempts {
		if attempt.UserID != userID || attempt.QuizID != quizID {
			continue
		}
		summary := domain.AttemptSummary{Attempt: attempt}
		for _, answer := range t.state.answers {
			if answer.AttemptID != attempt.ID {
				continue
			}
			summary.TotalAnswers++
			if answer.Correct {
				summary.CorrectAnswers++
			}
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].StartedAt.Equal(summaries[j].StartedAt) {
			return summaries[i].StartedAt.After(summaries[j].StartedAt)
		}
		return summaries[i].ID > summaries[j].ID
	})
	return summaries, nil
}

func (t *tx) InsertCertificateIfAbsent(_ context.Context, cert domain.Certificate) (domain.Certificate, bool, error) {
	for _, existing := range t.state.certificates {
		if existing.UserID == cert.UserID && existing.CourseID == cert.CourseID && existing.QuizID == cert.QuizID {
			return existing, false, nil
		}
	}
	t.state.nextCertificateID++
	cert.ID = t.state.nextCertificateID
	t.state.certificates = append(t.state.certificates, cert)
	return cert, true, nil
}

func (t *tx) ListCertificates(_ context.Context, userID int64) ([]domain.Certificate, error) {
	certs := make([]domain.Certificate, 0)
	for _, cert := range t.state.certificates {
		if cert.UserID == userID {
			certs = append(certs, cert)
		}
	}
	return certs, nil
}
