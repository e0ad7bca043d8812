package exam

import (
	"time"

	"github.com/mind-engage/provas/internal/grading"
)

type State string

const (
	StateNotStarted State = "not_started"
	StateInProgress State = "in_progress"
	StateFinished   State = "finished"
)

// Reason records why an attempt was finished.
type Reason string

const (
	ReasonManual  Reason = "manual"
	ReasonTimeout Reason = "timeout"
)

// Prova is a named exam session; Name and Day select its question bucket.
type Prova struct {
	ID            string    `json:"id"`
	Name          string    `json:"name" validate:"required,excludes=/"`
	Day           string    `json:"day" validate:"required,excludes=/"`
	QuestionCount int       `json:"question_count"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

type Choices struct {
	A string `json:"A" validate:"required"`
	B string `json:"B" validate:"required"`
	C string `json:"C" validate:"required"`
	D string `json:"D" validate:"required"`
	E string `json:"E" validate:"required"`
}

func (o Choices) Get(letter string) string {
	switch letter {
	case "A":
		return o.A
	case "B":
		return o.B
	case "C":
		return o.C
	case "D":
		return o.D
	case "E":
		return o.E
	}
	return ""
}

type Question struct {
	ID        string    `json:"id"`
	Text      string    `json:"text" validate:"required"`
	Options   Choices   `json:"options"`
	Correct   string    `json:"correct" validate:"required,oneof=A B C D E"`
	Tema      string    `json:"tema,omitempty"`
	ImageData string    `json:"imageData,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

func keysOf(qs []Question) []grading.Key {
	keys := make([]grading.Key, len(qs))
	for i, q := range qs {
		keys[i] = grading.Key{QuestionID: q.ID, Correct: q.Correct}
	}
	return keys
}

// Attempt is the persisted record of one student's attempt at one prova.
// Score and Total are meaningful only once FinishedAt is set.
type Attempt struct {
	ID           string            `json:"id"`
	StudentID    string            `json:"studentId"`
	StudentName  string            `json:"studentName"`
	StudentEmail string            `json:"studentEmail"`
	ExamID       string            `json:"examId"`
	ExamName     string            `json:"examName"`
	ExamDay      string            `json:"examDay"`
	Answers      map[string]string `json:"answers"`
	Score        int               `json:"score"`
	Total        int               `json:"total"`
	StartedAt    time.Time         `json:"startedAt"`
	FinishedAt   *time.Time        `json:"finishedAt,omitempty"`
	FinishReason Reason            `json:"finishReason,omitempty"`
}

func (a Attempt) Finished() bool { return a.FinishedAt != nil }

// AttemptID is the deterministic key of the (student, prova) attempt, so a
// student can never hold two attempts at the same prova.
func AttemptID(userID, provaID string) string { return userID + "-" + provaID }

// SaveStatus tracks whether a locally recorded answer reached the store.
type SaveStatus string

const (
	SavePending SaveStatus = "pending"
	SaveSynced  SaveStatus = "synced"
	SaveFailed  SaveStatus = "failed"
)

type AnswerView struct {
	Letter string     `json:"letter"`
	Status SaveStatus `json:"status"`
}

type QuestionView struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	Options   Choices `json:"options"`
	Tema      string  `json:"tema,omitempty"`
	ImageData string  `json:"imageData,omitempty"`
	// Correct is revealed only after the attempt is finished.
	Correct string `json:"correct,omitempty"`
}

// View is what a student sees of their attempt at a given instant.
type View struct {
	AttemptID   string                `json:"attempt_id"`
	State       State                 `json:"state"`
	Prova       Prova                 `json:"prova"`
	Questions   []QuestionView        `json:"questions"`
	Answers     map[string]AnswerView `json:"answers"`
	StartedAt   time.Time             `json:"started_at"`
	Deadline    time.Time             `json:"deadline"`
	RemainingMs int64                 `json:"remaining_ms"`
	Urgent      bool                  `json:"urgent"`
	Unsaved     int                   `json:"unsaved"`

	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Score      *int          `json:"score,omitempty"`
	Total      int           `json:"total"`
	Review     []grading.Row `json:"review,omitempty"`
}

// Audit is the admin side-by-side of a finished attempt.
type Audit struct {
	Attempt   Attempt        `json:"attempt"`
	Rows      []grading.Row  `json:"rows"`
	Recounted grading.Result `json:"recounted"`
}
