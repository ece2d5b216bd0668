package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayoubkefii/e-learning/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// AnswerKeyLoader reads quiz answer keys from the quizzes/questions/answers tables.
type AnswerKeyLoader struct {
	pool *pgxpool.Pool
}

func NewAnswerKeyLoader(pool *pgxpool.Pool) *AnswerKeyLoader {
	return &AnswerKeyLoader{pool: pool}
}

func (l *AnswerKeyLoader) LoadAnswerKey(ctx context.Context, quizID int64) (domain.AnswerKey, error) {
	key := domain.AnswerKey{}
	err := l.pool.QueryRow(ctx, `
		SELECT q.id, m.course_id, q.title, q.passing_score
		FROM quizzes q
		JOIN lessons l ON q.lesson_id = l.id
		JOIN modules m ON l.module_id = m.id
		WHERE q.id = $1`, quizID).
		Scan(&key.Quiz.ID, &key.Quiz.CourseID, &key.Quiz.Title, &key.Quiz.PassingScore)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AnswerKey{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.AnswerKey{}, domain.StorageFailure("load quiz", err)
	}

	rows, err := l.pool.Query(ctx, `
		SELECT qs.id, qs.question_type, qs.points, a.id, a.is_correct
		FROM questions qs
		LEFT JOIN answers a ON a.question_id = qs.id
		WHERE qs.quiz_id = $1
		ORDER BY qs.created_at, qs.id, a.id`, quizID)
	if err != nil {
		return domain.AnswerKey{}, domain.StorageFailure("load questions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			questionID int64
			qType      string
			points     int
			answerID   *int64
			correct    *bool
		)
		if err := rows.Scan(&questionID, &qType, &points, &answerID, &correct); err != nil {
			return domain.AnswerKey{}, domain.StorageFailure("scan question", err)
		}
		n := len(key.Questions)
		if n == 0 || key.Questions[n-1].ID != questionID {
			key.Questions = append(key.Questions, domain.Question{
				ID:     questionID,
				QuizID: quizID,
				Type:   qType,
				Points: points,
			})
			n++
		}
		if answerID != nil {
			key.Questions[n-1].Options = append(key.Questions[n-1].Options, domain.Option{
				ID:         *answerID,
				QuestionID: questionID,
				Correct:    correct != nil && *correct,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return domain.AnswerKey{}, domain.StorageFailure("load questions", fmt.Errorf("iterate rows: %w", err))
	}
	return key, nil
}
