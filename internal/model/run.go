package model

import "time"

// Run lifecycle states. Pending and Running are transient; the rest are
// terminal and make the run immutable.
const (
	RunStatusPending             = "pending"
	RunStatusRunning             = "running"
	RunStatusCompleted           = "completed"
	RunStatusCompletedWithErrors = "completed_with_errors"
	RunStatusFailed              = "failed"
	RunStatusCancelled           = "cancelled"
)

// ChecklistRun is the ORM model for one execution of a checklist against
// one indexed document.
type ChecklistRun struct {
	ID          string `gorm:"type:varchar(36);primaryKey" json:"id"`
	ChecklistID uint   `gorm:"not null;index" json:"checklistId"`
	DocumentID  string `gorm:"type:varchar(36);not null;index" json:"documentId"`
	// Language selects the response language of the generator ("de" or
	// "en"). Passed through, never auto-detected.
	Language string `gorm:"type:varchar(8);not null;default:'de'" json:"language"`
	Status   string `gorm:"type:varchar(30);not null;default:'pending'" json:"status"`
	// Error holds the run-level failure reason when Status is failed.
	Error    string        `gorm:"type:text" json:"error,omitempty"`
	Outcomes []ItemOutcome `gorm:"foreignKey:RunID" json:"outcomes,omitempty"`
	// Compliance summary over condition outcomes.
	ConditionsTotal      int       `gorm:"not null;default:0" json:"conditionsTotal"`
	ConditionsMet        int       `gorm:"not null;default:0" json:"conditionsMet"`
	CompliancePercentage float64   `gorm:"not null;default:0" json:"compliancePercentage"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"createdAt"`
	FinishedAt           *time.Time `gorm:"default:null" json:"finishedAt"`
}

// TableName maps the model to its table.
func (ChecklistRun) TableName() string {
	return "checklist_runs"
}

// ItemOutcome is the ORM model for the result of one checklist item within
// a run. Exactly one outcome exists per input item, even on failure: a
// failed item carries an error description instead of a value. A found
// value of false is a successful outcome ("not found in document"), not
// an error.
type ItemOutcome struct {
	ID       uint     `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID    string   `gorm:"type:varchar(36);not null;index" json:"runId"`
	ItemID   uint     `gorm:"not null" json:"itemId"`
	Position int      `gorm:"not null" json:"position"`
	Kind     ItemKind `gorm:"type:varchar(20);not null" json:"kind"`
	// Value is the extracted answer text for questions.
	Value string `gorm:"type:text" json:"value,omitempty"`
	// BoolValue is the evaluation result for conditions.
	BoolValue   bool   `gorm:"not null;default:false" json:"boolValue"`
	Explanation string `gorm:"type:text" json:"explanation,omitempty"`
	Found       bool   `gorm:"not null;default:false" json:"found"`
	Failed      bool   `gorm:"not null;default:false" json:"failed"`
	Error       string `gorm:"type:text" json:"error,omitempty"`
	// Sources is a JSON-encoded list of supporting chunk references.
	Sources string `gorm:"type:text" json:"sources,omitempty"`
}

// TableName maps the model to its table.
func (ItemOutcome) TableName() string {
	return "item_outcomes"
}

// ChunkRef points at a supporting passage of an outcome.
type ChunkRef struct {
	DocumentID string  `json:"documentId"`
	Seq        int     `json:"seq"`
	Score      float64 `json:"score"`
}
