package model

// QuestionType distinguishes auto-scored questions from free text.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeEssay          QuestionType = "essay"
)

// Question is a single test question. CorrectAnswer is empty for essays.
type Question struct {
	ID            string       `json:"id"`
	Text          string       `json:"text"`
	Type          QuestionType `json:"type"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer,omitempty"`
	OrderNum      int          `json:"order_num"`
}

// Scored reports whether the question counts toward the score denominator.
func (q Question) Scored() bool {
	return q.Type != QuestionTypeEssay
}

// QuestionForLearner strips the answer key before a question is sent to the browser.
type QuestionForLearner struct {
	ID       string       `json:"id"`
	Text     string       `json:"text"`
	Type     QuestionType `json:"type"`
	Options  []string     `json:"options,omitempty"`
	OrderNum int          `json:"order_num"`
}

// ForLearner returns the learner-safe view of q.
func (q Question) ForLearner() QuestionForLearner {
	return QuestionForLearner{
		ID:       q.ID,
		Text:     q.Text,
		Type:     q.Type,
		Options:  q.Options,
		OrderNum: q.OrderNum,
	}
}
