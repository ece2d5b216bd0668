package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ayoubkefii/e-learning/internal/app"
	"github.com/ayoubkefii/e-learning/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Store implements app.UnitOfWork on Postgres. Each unit of work is a
// read-committed transaction; the open-attempt invariant rests on the
// quiz_attempts_one_open partial unique index and row locks.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// OpenDB opens a bun handle for dsn using the pgdriver connector.
func OpenDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, stores app.Stores) error) error {
	err := s.db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, app.Stores{
			Attempts:     &attemptStore{db: tx},
			Certificates: &certificateStore{db: tx},
		})
	})
	return domain.StorageFailure("run unit of work", err)
}

type attemptRow struct {
	bun.BaseModel `bun:"table:quiz_attempts,alias:qa"`

	ID          int64      `bun:"id,pk,autoincrement"`
	UserID      int64      `bun:"user_id,notnull"`
	QuizID      int64      `bun:"quiz_id,notnull"`
	Score       *int       `bun:"score"`
	Passed      bool       `bun:"passed,notnull"`
	StartedAt   time.Time  `bun:"started_at,notnull"`
	CompletedAt *time.Time `bun:"completed_at"`
}

func (r attemptRow) toDomain() domain.Attempt {
	attempt := domain.Attempt{
		ID:        r.ID,
		UserID:    r.UserID,
		QuizID:    r.QuizID,
		Score:     r.Score,
		Passed:    r.Passed,
		StartedAt: r.StartedAt.UTC(),
	}
	if r.CompletedAt != nil {
		completed := r.CompletedAt.UTC()
		attempt.CompletedAt = &completed
	}
	return attempt
}

type attemptSummaryRow struct {
	attemptRow     `bun:",extend"`
	CorrectAnswers int `bun:"correct_answers,scanonly"`
	TotalAnswers   int `bun:"total_answers,scanonly"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:quiz_answers"`

	AttemptID        int64 `bun:"attempt_id,pk"`
	QuestionID       int64 `bun:"question_id,pk"`
	SelectedAnswerID int64 `bun:"selected_answer_id,notnull"`
	Correct          bool  `bun:"is_correct,notnull"`
}

type certificateRow struct {
	bun.BaseModel `bun:"table:certificates,alias:c"`

	ID       int64     `bun:"id,pk,autoincrement"`
	UserID   int64     `bun:"user_id,notnull"`
	CourseID int64     `bun:"course_id,notnull"`
	QuizID   int64     `bun:"quiz_id,notnull"`
	Number   string    `bun:"certificate_number,notnull"`
	IssuedAt time.Time `bun:"issued_at,notnull"`
}

func (r certificateRow) toDomain() domain.Certificate {
	return domain.Certificate{
		ID:       r.ID,
		UserID:   r.UserID,
		CourseID: r.CourseID,
		QuizID:   r.QuizID,
		Number:   r.Number,
		IssuedAt: r.IssuedAt.UTC(),
	}
}

type attemptStore struct {
	db bun.IDB
}

func (s *attemptStore) FindOpenAttempt(ctx context.Context, userID, quizID int64) (domain.Attempt, bool, error) {
	var row attemptRow
	err := s.db.NewSelect().
		Model(&row).
		Where("qa.user_id = ?", userID).
		Where("qa.quiz_id = ?", quizID).
		Where("qa.completed_at IS NULL").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, false, nil
	}
	if err != nil {
		return domain.Attempt{}, false, domain.StorageFailure("find open attempt", err)
	}
	return row.toDomain(), true, nil
}

func (s *attemptStore) CreateAttempt(ctx context.Context, userID, quizID int64, startedAt time.Time) (domain.Attempt, bool, error) {
	row := attemptRow{UserID: userID, QuizID: quizID, StartedAt: startedAt}
	// Conflicts with a concurrent open attempt wait for that transaction and
	// then insert nothing.
	res, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (user_id, quiz_id) WHERE completed_at IS NULL DO NOTHING").
		Returning("*").
		Exec(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, false, nil
	}
	if isForeignKeyViolation(err) {
		// quiz_id is the only reference; the quiz was deleted after its key was cached.
		return domain.Attempt{}, false, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Attempt{}, false, domain.StorageFailure("create attempt", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Attempt{}, false, domain.StorageFailure("create attempt", err)
	}
	if n == 0 {
		return domain.Attempt{}, false, nil
	}
	return row.toDomain(), true, nil
}

func (s *attemptStore) LoadAttemptForUser(ctx context.Context, attemptID, userID int64) (domain.Attempt, error) {
	var row attemptRow
	err := s.db.NewSelect().
		Model(&row).
		Where("qa.id = ?", attemptID).
		Where("qa.user_id = ?", userID).
		For("UPDATE").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, domain.StorageFailure("load attempt", err)
	}
	return row.toDomain(), nil
}

func (s *attemptStore) RecordAnswers(ctx context.Context, answers []domain.RecordedAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	rows := make([]answerRow, 0, len(answers))
	for _, a := range answers {
		rows = append(rows, answerRow{
			AttemptID:        a.AttemptID,
			QuestionID:       a.QuestionID,
			SelectedAnswerID: a.SelectedAnswerID,
			Correct:          a.Correct,
		})
	}
	if _, err := s.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return domain.StorageFailure("record answers", err)
	}
	return nil
}

func (s *attemptStore) CloseAttempt(ctx context.Context, attemptID int64, score int, passed bool, completedAt time.Time) (domain.Attempt, error) {
	res, err := s.db.NewUpdate().
		Table("quiz_attempts").
		Set("score = ?", score).
		Set("passed = ?", passed).
		Set("completed_at = ?", completedAt).
		Where("id = ?", attemptID).
		Where("completed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return domain.Attempt{}, domain.StorageFailure("close attempt", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Attempt{}, domain.StorageFailure("close attempt", err)
	}
	if n == 0 {
		return domain.Attempt{}, domain.ErrAttemptClosed
	}

	var row attemptRow
	if err := s.db.NewSelect().Model(&row).Where("qa.id = ?", attemptID).Scan(ctx); err != nil {
		return domain.Attempt{}, domain.StorageFailure("reload attempt", err)
	}
	return row.toDomain(), nil
}

func (s *attemptStore) ListAttempts(ctx context.Context, userID, quizID int64) ([]domain.AttemptSummary, error) {
	var rows []attemptSummaryRow
	err := s.db.NewSelect().
		Model(&rows).
		ColumnExpr("qa.*").
		ColumnExpr("(SELECT COUNT(*) FROM quiz_answers qans WHERE qans.attempt_id = qa.id AND qans.is_correct) AS correct_answers").
		ColumnExpr("(SELECT COUNT(*) FROM quiz_answers qans WHERE qans.attempt_id = qa.id) AS total_answers").
		Where("qa.user_id = ?", userID).
		Where("qa.quiz_id = ?", quizID).
		Order("qa.started_at DESC", "qa.id DESC").
		Scan(ctx)
	if err != nil {
		return nil, domain.StorageFailure("list attempts", err)
	}
	summaries := make([]domain.AttemptSummary, 0, len(rows))
	for _, r := range rows {
		summaries = append(summaries, domain.AttemptSummary{
			Attempt:        r.attemptRow.toDomain(),
			CorrectAnswers: r.CorrectAnswers,
			TotalAnswers:   r.TotalAnswers,
		})
	}
	return summaries, nil
}

type certificateStore struct {
	db bun.IDB
}

func (s *certificateStore) InsertCertificateIfAbsent(ctx context.Context, cert domain.Certificate) (domain.Certificate, bool, error) {
	row := certificateRow{
		UserID:   cert.UserID,
		CourseID: cert.CourseID,
		QuizID:   cert.QuizID,
		Number:   cert.Number,
		IssuedAt: cert.IssuedAt,
	}
	res, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (user_id, course_id, quiz_id) DO NOTHING").
		Returning("*").
		Exec(ctx)
	inserted := false
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return domain.Certificate{}, false, domain.StorageFailure("insert certificate", err)
	default:
		n, err := res.RowsAffected()
		if err != nil {
			return domain.Certificate{}, false, domain.StorageFailure("insert certificate", err)
		}
		inserted = n > 0
	}
	if inserted {
		return row.toDomain(), true, nil
	}

	var existing certificateRow
	err = s.db.NewSelect().
		Model(&existing).
		Where("c.user_id = ?", cert.UserID).
		Where("c.course_id = ?", cert.CourseID).
		Where("c.quiz_id = ?", cert.QuizID).
		Scan(ctx)
	if err != nil {
		return domain.Certificate{}, false, domain.StorageFailure("load certificate", err)
	}
	return existing.toDomain(), false, nil
}

func (s *certificateStore) ListCertificates(ctx context.Context, userID int64) ([]domain.Certificate, error) {
	var rows []certificateRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("c.user_id = ?", userID).
		Order("c.issued_at ASC", "c.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, domain.StorageFailure("list certificates", err)
	}
	certs := make([]domain.Certificate, 0, len(rows))
	for _, r := range rows {
		certs = append(certs, r.toDomain())
	}
	return certs, nil
}

// foreignKeyViolation is the SQLSTATE for foreign_key_violation.
const foreignKeyViolation = "23503"

func isForeignKeyViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == foreignKeyViolation
}
