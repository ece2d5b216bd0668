package domain

// AnswerKey holds a quiz's questions, weights and correct options.
// Questions are kept in creation order.
type AnswerKey struct {
	Quiz      Quiz
	Questions []Question
}

// Question looks up a question of the quiz by ID.
func (k AnswerKey) Question(id int64) (Question, bool) {
	for _, q := range k.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Weights returns the point weight of every question in the quiz.
func (k AnswerKey) Weights() map[int64]int {
	weights := make(map[int64]int, len(k.Questions))
	for _, q := range k.Questions {
		weights[q.ID] = q.Weight()
	}
	return weights
}

// Grade resolves each submitted answer against the key. It fails before
// producing anything if a question is foreign to the quiz or an answer is
// foreign to its question.
func (k AnswerKey) Grade(attemptID int64, submissions []AnswerSubmission) ([]RecordedAnswer, map[int64]bool, error) {
	recorded := make([]RecordedAnswer, 0, len(submissions))
	correct := make(map[int64]bool, len(submissions))
	for _, sub := range submissions {
		question, ok := k.Question(sub.QuestionID)
		if !ok {
			return nil, nil, ErrQuestionNotInQuiz
		}
		option, ok := question.Option(sub.SelectedAnswerID)
		if !ok {
			return nil, nil, ErrAnswerNotInQuestion
		}
		correct[question.ID] = option.Correct
		recorded = append(recorded, RecordedAnswer{
			AttemptID:        attemptID,
			QuestionID:       question.ID,
			SelectedAnswerID: option.ID,
			Correct:          option.Correct,
		})
	}
	return recorded, correct, nil
}

// ValidateSubmissions checks the shape of a submission without touching any store.
func ValidateSubmissions(submissions []AnswerSubmission) error {
	if len(submissions) == 0 {
		return ErrNoAnswers
	}
	seen := make(map[int64]struct{}, len(submissions))
	for _, sub := range submissions {
		if sub.QuestionID <= 0 || sub.SelectedAnswerID <= 0 {
			return ErrInvalidID
		}
		if _, dup := seen[sub.QuestionID]; dup {
			return ErrDuplicateQuestion
		}
		seen[sub.QuestionID] = struct{}{}
	}
	return nil
}
