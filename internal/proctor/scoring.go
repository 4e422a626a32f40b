package proctor

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Grade scores answers against questions. Only multiple-choice questions
// count; essays are stored verbatim with a nil Correct. A multi-select
// answer is a comma-separated list and matches in any order.
func Grade(questions []model.Question, answers map[int]string, passingScore, timeSpent int, at time.Time) model.TestResult {
	res := model.TestResult{
		PassingScore: passingScore,
		TimeSpent:    timeSpent,
		Answers:      make([]model.AnswerResult, 0, len(questions)),
		SubmittedAt:  at,
	}

	for i, q := range questions {
		ans := answers[i]
		ar := model.AnswerResult{QuestionIndex: i, QuestionID: q.ID, Answer: ans}
		if q.Scored() {
			res.TotalQuestions++
			got := normalizeChoice(ans)
			ok := got != "" && got == normalizeChoice(q.CorrectAnswer)
			if ok {
				res.CorrectAnswers++
			}
			ar.Correct = &ok
		}
		res.Answers = append(res.Answers, ar)
	}

	if res.TotalQuestions > 0 {
		res.Score = int(math.Round(float64(res.CorrectAnswers) / float64(res.TotalQuestions) * 100))
	}
	res.Passed = res.Score >= passingScore
	return res
}

func normalizeChoice(s string) string {
	parts := strings.Split(s, ",")
	picked := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			picked = append(picked, p)
		}
	}
	sort.Strings(picked)
	return strings.Join(picked, ",")
}
