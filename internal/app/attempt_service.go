package app

import (
	"context"
	"errors"
	"time"

	"github.com/ayoubkefii/e-learning/internal/domain"
	"go.uber.org/zap"
)

// errOpenAttemptVanished means every insert conflicted with an open attempt that
// the following re-read could not find.
var errOpenAttemptVanished = errors.New("conflicting open attempt no longer open")

// startRounds bounds how often StartAttempt retries after losing the insert race.
const startRounds = 3

// AnswerKeyRepository loads quiz answer keys (from cache/backing store).
type AnswerKeyRepository interface {
	GetAnswerKey(ctx context.Context, quizID int64) (domain.AnswerKey, error)
}

// AttemptStore persists attempts and their recorded answers.
type AttemptStore interface {
	FindOpenAttempt(ctx context.Context, userID, quizID int64) (domain.Attempt, bool, error)
	// CreateAttempt inserts an OPEN attempt unless one already exists for
	// (userID, quizID); the bool reports whether a row was inserted.
	CreateAttempt(ctx context.Context, userID, quizID int64, startedAt time.Time) (domain.Attempt, bool, error)
	// LoadAttemptForUser returns the attempt and locks it until the unit of work ends.
	LoadAttemptForUser(ctx context.Context, attemptID, userID int64) (domain.Attempt, error)
	RecordAnswers(ctx context.Context, answers []domain.RecordedAnswer) error
	// CloseAttempt moves an OPEN attempt to CLOSED; it returns ErrAttemptClosed otherwise.
	CloseAttempt(ctx context.Context, attemptID int64, score int, passed bool, completedAt time.Time) (domain.Attempt, error)
	ListAttempts(ctx context.Context, userID, quizID int64) ([]domain.AttemptSummary, error)
}

// CertificateStore persists issued certificates.
type CertificateStore interface {
	InsertCertificateIfAbsent(ctx context.Context, cert domain.Certificate) (domain.Certificate, bool, error)
	ListCertificates(ctx context.Context, userID int64) ([]domain.Certificate, error)
}

// Stores are the repositories bound to a single unit of work.
type Stores struct {
	Attempts     AttemptStore
	Certificates CertificateStore
}

// UnitOfWork runs fn atomically: it commits when fn returns nil and rolls
// back every effect otherwise.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error
}

// AttemptService opens, scores and closes quiz attempts.
type AttemptService struct {
	keys   AnswerKeyRepository
	uow    UnitOfWork
	issuer *CertificateIssuer
	now    func() time.Time
	log    *zap.Logger
}

func NewAttemptService(keys AnswerKeyRepository, uow UnitOfWork, issuer *CertificateIssuer, log *zap.Logger) *AttemptService {
	return NewAttemptServiceWithClock(keys, uow, issuer, log, time.Now)
}

// NewAttemptServiceWithClock is test-only for deterministic timestamps.
func NewAttemptServiceWithClock(keys AnswerKeyRepository, uow UnitOfWork, issuer *CertificateIssuer, log *zap.Logger, now func() time.Time) *AttemptService {
	if issuer == nil {
		issuer = NewCertificateIssuer()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AttemptService{keys: keys, uow: uow, issuer: issuer, now: now, log: log}
}

// StartAttempt returns the user's open attempt for the quiz, creating one if needed.
func (s *AttemptService) StartAttempt(ctx context.Context, userID, quizID int64) (domain.Attempt, error) {
	if userID <= 0 || quizID <= 0 {
		return domain.Attempt{}, domain.ErrInvalidID
	}
	if _, err := s.keys.GetAnswerKey(ctx, quizID); err != nil {
		return domain.Attempt{}, err
	}

	var attempt domain.Attempt
	created := false
	err := s.uow.RunInTx(ctx, func(ctx context.Context, stores Stores) error {
		for round := 0; round < startRounds; round++ {
			existing, ok, err := stores.Attempts.FindOpenAttempt(ctx, userID, quizID)
			if err != nil {
				return err
			}
			if ok {
				attempt = existing
				return nil
			}

			attempt, created, err = stores.Attempts.CreateAttempt(ctx, userID, quizID, s.timestamp())
			if err != nil || created {
				return err
			}
			// Lost the race to a concurrent start. The next round hands back the
			// winner's attempt, or inserts again if the winner already closed it.
		}
		return domain.StorageFailure("start attempt", errOpenAttemptVanished)
	})
	if err != nil {
		s.logFailure("start attempt failed", err, zap.Int64("user_id", userID), zap.Int64("quiz_id", quizID))
		return domain.Attempt{}, err
	}

	if created {
		s.log.Info("attempt started",
			zap.Int64("attempt_id", attempt.ID),
			zap.Int64("user_id", userID),
			zap.Int64("quiz_id", quizID))
	}
	return attempt, nil
}

// SubmitAttempt scores an open attempt, closes it and issues a certificate
// on a pass. Either every effect is committed or none is.
func (s *AttemptService) SubmitAttempt(ctx context.Context, userID, attemptID int64, answers []domain.AnswerSubmission) (domain.Outcome, error) {
	if userID <= 0 || attemptID <= 0 {
		return domain.Outcome{}, domain.ErrInvalidID
	}
	if err := domain.ValidateSubmissions(answers); err != nil {
		return domain.Outcome{}, err
	}

	var outcome domain.Outcome
	err := s.uow.RunInTx(ctx, func(ctx context.Context, stores Stores) error {
		attempt, err := stores.Attempts.LoadAttemptForUser(ctx, attemptID, userID)
		if err != nil {
			return err
		}
		if !attempt.Open() {
			return domain.ErrAttemptClosed
		}

		key, err := s.keys.GetAnswerKey(ctx, attempt.QuizID)
		if err != nil {
			return err
		}
		recorded, correct, err := key.Grade(attempt.ID, answers)
		if err != nil {
			return err
		}
		result := Score(key.Weights(), correct, key.Quiz.PassingScore)

		if err := stores.Attempts.RecordAnswers(ctx, recorded); err != nil {
			return err
		}
		closed, err := stores.Attempts.CloseAttempt(ctx, attempt.ID, result.Percentage, result.Passed, s.timestamp())
		if err != nil {
			return err
		}

		outcome = domain.Outcome{Attempt: closed, Result: result}
		if !result.Passed {
			return nil
		}
		cert, _, err := s.issuer.IssueIfAbsent(ctx, stores.Certificates, userID, key.Quiz.CourseID, key.Quiz.ID)
		if err != nil {
			return err
		}
		outcome.Certificate = &cert
		return nil
	})
	if err != nil {
		s.logFailure("submit attempt failed", err, zap.Int64("user_id", userID), zap.Int64("attempt_id", attemptID))
		return domain.Outcome{}, err
	}

	fields := []zap.Field{
		zap.Int64("attempt_id", outcome.Attempt.ID),
		zap.Int64("user_id", userID),
		zap.Int64("quiz_id", outcome.Attempt.QuizID),
		zap.Int("score", outcome.Result.Percentage),
		zap.Bool("passed", outcome.Result.Passed),
	}
	if outcome.Certificate != nil {
		fields = append(fields, zap.String("certificate_number", outcome.Certificate.Number))
	}
	s.log.Info("attempt submitted", fields...)
	return outcome, nil
}

// ListAttempts returns the user's attempts at a quiz, newest first.
func (s *AttemptService) ListAttempts(ctx context.Context, userID, quizID int64) ([]domain.AttemptSummary, error) {
	if userID <= 0 || quizID <= 0 {
		return nil, domain.ErrInvalidID
	}
	var attempts []domain.AttemptSummary
	err := s.uow.RunInTx(ctx, func(ctx context.Context, stores Stores) error {
		var err error
		attempts, err = stores.Attempts.ListAttempts(ctx, userID, quizID)
		return err
	})
	return attempts, err
}

// ListCertificates returns every certificate issued to the user.
func (s *AttemptService) ListCertificates(ctx context.Context, userID int64) ([]domain.Certificate, error) {
	if userID <= 0 {
		return nil, domain.ErrInvalidID
	}
	var certs []domain.Certificate
	err := s.uow.RunInTx(ctx, func(ctx context.Context, stores Stores) error {
		var err error
		certs, err = stores.Certificates.ListCertificates(ctx, userID)
		return err
	})
	return certs, err
}

// timestamp is truncated to what Postgres stores so snapshots compare equal.
func (s *AttemptService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *AttemptService) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if domain.KindOf(err) == domain.KindStorageFailure {
		s.log.Error(msg, fields...)
		return
	}
	s.log.Debug(msg, fields...)
}
