package models

import (
	"errors"
	"strings"
	"time"
)

// ErrOrderNotFound is returned when an order run is not known
var ErrOrderNotFound = errors.New("order not found")

// Candidate is one purchasable item retrieved from a storefront results page.
// Title is the identity key within a run.
type Candidate struct {
	Title  string `json:"title"`
	Brand  string `json:"brand,omitempty"`
	Price  string `json:"price,omitempty"`
	Rating int    `json:"rating"` // whole stars, 0 to MaxRating
	Link   string `json:"link"`
}

// MaxRating is the highest star count a candidate can carry.
const MaxRating = 5

// Valid reports whether the record carries both a title and a link.
func (c Candidate) Valid() bool {
	return strings.TrimSpace(c.Title) != "" && strings.TrimSpace(c.Link) != ""
}

// Same compares two candidates by title and link.
func (c Candidate) Same(other Candidate) bool {
	return c.Title == other.Title && c.Link == other.Link
}

// RankedSelection holds at most MaxRanked candidates in preference order.
type RankedSelection []Candidate

// MaxRanked caps the size of a RankedSelection.
const MaxRanked = 5

// ChosenItem is the candidate committed to after the human answered.
type ChosenItem struct {
	Index     int       `json:"index"` // 1-based position in the RankedSelection
	Candidate Candidate `json:"candidate"`
	Response  string    `json:"response"`
}

// Stage names a step of the order pipeline.
type Stage string

const (
	StageStarting       Stage = "starting"
	StagePlanning       Stage = "planning"
	StageSearching      Stage = "searching"
	StageExtracting     Stage = "extracting"
	StageRanking        Stage = "ranking"
	StageLabeling       Stage = "labeling"
	StageAwaitingChoice Stage = "awaiting_choice"
	StageNavigating     Stage = "navigating"
	StageCheckingOut    Stage = "checking_out"
	StageRecoveryRetry  Stage = "recovery_retry"
	StageConfirmed      Stage = "confirmed"
	StageFailed         Stage = "failed"
)

// OrderStatus is the terminal state of a run.
type OrderStatus string

const (
	OrderSucceeded OrderStatus = "success"
	OrderFailed    OrderStatus = "failure"
)

// OrderRequest is a single natural-language purchase request.
type OrderRequest struct {
	ID          string    `json:"id"`
	Prompt      string    `json:"prompt"`
	UserID      string    `json:"user_id,omitempty"`
	Storefront  string    `json:"storefront,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// OrderOutcome is created once at the end of a run and never mutated.
type OrderOutcome struct {
	RunID          string      `json:"run_id"`
	Status         OrderStatus `json:"status"`
	Prompt         string      `json:"prompt"`
	UserID         string      `json:"user_id,omitempty"`
	Query          string      `json:"query,omitempty"`
	Chosen         *ChosenItem `json:"chosen,omitempty"`
	FailedStage    Stage       `json:"failed_stage,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	Screenshot     []byte      `json:"-"`
	ScreenshotMIME string      `json:"screenshot_mime,omitempty"`
	Recoveries     int         `json:"recoveries"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
}

// Succeeded reports whether the run reached a checkout confirmation.
func (o OrderOutcome) Succeeded() bool { return o.Status == OrderSucceeded }

// Artifact is a captured page image or snapshot.
type Artifact struct {
	Data []byte
	MIME string
}
