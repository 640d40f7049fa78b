package domain

// QuizBatchSize is the number of questions generated per quiz session.
const QuizBatchSize = 20

// QuizPassMark is the minimum score out of QuizBatchSize that passes.
const QuizPassMark = 16

// QuizCategories is the closed set of quiz subjects.
var QuizCategories = []string{
	"Music Business",
	"Film Industry",
	"Publishing",
	"Production",
	"Artist Rights",
}

// IsQuizCategory reports whether c is one of QuizCategories.
func IsQuizCategory(c string) bool {
	for _, v := range QuizCategories {
		if v == c {
			return true
		}
	}
	return false
}

// QuizQuestion is one multiple-choice question. Questions are not persisted.
type QuizQuestion struct {
	Question           string   `json:"question"`
	Options            []string `json:"options"`
	CorrectAnswerIndex int      `json:"correctAnswerIndex"`
	Explanation        string   `json:"explanation"`
	SourceURL          string   `json:"sourceUrl"`
}

// Valid reports whether q has four options and an in-range answer index.
func (q QuizQuestion) Valid() bool {
	return q.Question != "" && len(q.Options) == 4 &&
		q.CorrectAnswerIndex >= 0 && q.CorrectAnswerIndex < len(q.Options)
}
