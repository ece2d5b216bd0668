package domain

import "time"

// Quiz is the scoring-relevant view of a quiz.
type Quiz struct {
	ID           int64  `json:"id"`
	CourseID     int64  `json:"course_id"`
	Title        string `json:"title"`
	PassingScore int    `json:"passing_score"` // 0-100
}

// Option is a possible answer for a question.
type Option struct {
	ID         int64 `json:"id"`
	QuestionID int64 `json:"question_id"`
	Correct    bool  `json:"is_correct"`
}

// Question models a single-choice question.
type Question struct {
	ID      int64    `json:"id"`
	QuizID  int64    `json:"quiz_id"`
	Type    string   `json:"question_type"`
	Points  int      `json:"points"`
	Options []Option `json:"answers"`
}

// Weight returns the points a correct answer earns; defaults to 1 if unset.
func (q Question) Weight() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// Option looks up one of the question's answers.
func (q Question) Option(id int64) (Option, bool) {
	for _, opt := range q.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return Option{}, false
}

// Attempt is one user's pass through one quiz. It is OPEN until CompletedAt is set.
type Attempt struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	QuizID      int64      `json:"quiz_id"`
	Score       *int       `json:"score"`
	Passed      bool       `json:"passed"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// Open reports whether the attempt can still be submitted.
func (a Attempt) Open() bool {
	return a.CompletedAt == nil
}

// AttemptSummary is an attempt with the counts of its recorded answers.
type AttemptSummary struct {
	Attempt
	CorrectAnswers int `json:"correct_answers"`
	TotalAnswers   int `json:"total_answers"`
}

// AnswerSubmission is one (question, chosen answer) pair from a client.
type AnswerSubmission struct {
	QuestionID       int64 `json:"question_id"`
	SelectedAnswerID int64 `json:"selected_answer_id"`
}

// RecordedAnswer is the immutable audit row written when an attempt is scored.
type RecordedAnswer struct {
	AttemptID        int64
	QuestionID       int64
	SelectedAnswerID int64
	Correct          bool
}

// ScoreResult is the output of scoring a submission.
type ScoreResult struct {
	Earned     int  `json:"earned_points"`
	Total      int  `json:"total_points"`
	Percentage int  `json:"percentage"`
	Passed     bool `json:"passed"`
}

// Certificate is issued to a user for passing a quiz of a course.
type Certificate struct {
	ID       int64     `json:"id"`
	UserID   int64     `json:"user_id"`
	CourseID int64     `json:"course_id"`
	QuizID   int64     `json:"quiz_id"`
	Number   string    `json:"certificate_number"`
	IssuedAt time.Time `json:"issued_at"`
}

// Outcome is the result of a successful submission.
type Outcome struct {
	Attempt     Attempt
	Result      ScoreResult
	Certificate *Certificate
}
