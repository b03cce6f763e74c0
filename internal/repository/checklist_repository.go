package repository

import (
	"checkdoc-go/internal/model"

	"gorm.io/gorm"
)

// ChecklistRepository is the checklist store: templates and their ordered
// questions and conditions.
type ChecklistRepository interface {
	Create(checklist *model.Checklist) error
	FindByID(id uint) (*model.Checklist, error)
	FindAll() ([]model.Checklist, error)
	Update(checklist *model.Checklist) error
	Delete(id uint) error

	AddItem(item *model.ChecklistItem) error
	UpdateItem(item *model.ChecklistItem) error
	DeleteItem(id uint) error
	// GetItems returns the checklist's items in declared order.
	GetItems(checklistID uint) ([]model.ChecklistItem, error)
}

type checklistRepository struct {
	db *gorm.DB
}

// NewChecklistRepository creates a new ChecklistRepository instance.
func NewChecklistRepository(db *gorm.DB) ChecklistRepository {
	return &checklistRepository{db: db}
}

func (r *checklistRepository) Create(checklist *model.Checklist) error {
	return r.db.Create(checklist).Error
}

func (r *checklistRepository) FindByID(id uint) (*model.Checklist, error) {
	var checklist model.Checklist
	err := r.db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("position asc, id asc")
	}).Where("id = ?", id).First(&checklist).Error
	if err != nil {
		return nil, err
	}
	return &checklist, nil
}

func (r *checklistRepository) FindAll() ([]model.Checklist, error) {
	var checklists []model.Checklist
	err := r.db.Order("created_at desc").Find(&checklists).Error
	return checklists, err
}

func (r *checklistRepository) Update(checklist *model.Checklist) error {
	return r.db.Save(checklist).Error
}

// Delete removes the checklist together with its items.
func (r *checklistRepository) Delete(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("checklist_id = ?", id).Delete(&model.ChecklistItem{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.Checklist{}).Error
	})
}

func (r *checklistRepository) AddItem(item *model.ChecklistItem) error {
	return r.db.Create(item).Error
}

func (r *checklistRepository) UpdateItem(item *model.ChecklistItem) error {
	return r.db.Save(item).Error
}

func (r *checklistRepository) DeleteItem(id uint) error {
	return r.db.Where("id = ?", id).Delete(&model.ChecklistItem{}).Error
}

func (r *checklistRepository) GetItems(checklistID uint) ([]model.ChecklistItem, error) {
	var items []model.ChecklistItem
	err := r.db.Where("checklist_id = ?", checklistID).Order("position asc, id asc").Find(&items).Error
	return items, err
}
