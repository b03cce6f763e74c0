package model

import "time"

// ItemKind tags the two checklist item variants.
type ItemKind string

const (
	// ItemKindQuestion asks for an answer extracted from the document.
	ItemKindQuestion ItemKind = "question"
	// ItemKindCondition asks for a boolean compliance evaluation.
	ItemKindCondition ItemKind = "condition"
)

// Checklist is the ORM model for a checklist template, an ordered
// collection of questions and conditions.
type Checklist struct {
	ID          uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string          `gorm:"type:varchar(255);not null" json:"name"`
	Description string          `gorm:"type:text" json:"description"`
	Items       []ChecklistItem `gorm:"foreignKey:ChecklistID" json:"items,omitempty"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName maps the model to its table.
func (Checklist) TableName() string {
	return "checklists"
}

// ChecklistItem is the ORM model for one question or condition of a
// checklist. Position is the declared order within the checklist;
// outcomes of a run are always reported in this order.
type ChecklistItem struct {
	ID          uint     `gorm:"primaryKey;autoIncrement" json:"id"`
	ChecklistID uint     `gorm:"not null;index" json:"checklistId"`
	Kind        ItemKind `gorm:"type:varchar(20);not null" json:"kind"`
	Text        string   `gorm:"type:text;not null" json:"text"`
	// AnswerHint optionally narrows the expected answer type of a
	// question (text, number, date, boolean).
	AnswerHint string `gorm:"type:varchar(50)" json:"answerHint,omitempty"`
	// Context carries extra instructions into the prompt.
	Context  string `gorm:"type:text" json:"context,omitempty"`
	Required bool   `gorm:"not null;default:true" json:"required"`
	Position int    `gorm:"not null;default:0" json:"position"`
}

// TableName maps the model to its table.
func (ChecklistItem) TableName() string {
	return "checklist_items"
}
