package grading

// Letters are the option labels of a multiple-choice question, in display order.
var Letters = []string{"A", "B", "C", "D", "E"}

func ValidLetter(l string) bool {
	for _, x := range Letters {
		if l == x {
			return true
		}
	}
	return false
}

// Key is the minimal view of a question needed for scoring.
type Key struct {
	QuestionID string
	Correct    string
}

type Result struct {
	Score int `json:"score"`
	Total int `json:"total"`
}

// Row is one line of an answer sheet.
type Row struct {
	QuestionID string `json:"question_id"`
	Given      string `json:"given,omitempty"`
	Correct    string `json:"correct"`
	Answered   bool   `json:"answered"`
	IsCorrect  bool   `json:"is_correct"`
}

// Score counts exact matches between answers and the key. Unanswered
// questions and unknown letters are simply wrong; answers for questions not
// in keys are ignored.
func Score(keys []Key, answers map[string]string) Result {
	res := Result{Total: len(keys)}
	for _, k := range keys {
		if isCorrect(k, answers[k.QuestionID]) {
			res.Score++
		}
	}
	return res
}

// Review lists every question in key order with the given and correct letters.
func Review(keys []Key, answers map[string]string) []Row {
	rows := make([]Row, 0, len(keys))
	for _, k := range keys {
		given := answers[k.QuestionID]
		rows = append(rows, Row{
			QuestionID: k.QuestionID,
			Given:      given,
			Correct:    k.Correct,
			Answered:   given != "",
			IsCorrect:  isCorrect(k, given),
		})
	}
	return rows
}

func isCorrect(k Key, given string) bool {
	return given != "" && ValidLetter(given) && given == k.Correct
}
