package service

import (
	"errors"
	"fmt"

	"checkdoc-go/internal/model"
	"checkdoc-go/internal/repository"
	"checkdoc-go/pkg/log"

	"gorm.io/gorm"
)

// ChecklistService manages checklist templates and their items.
type ChecklistService interface {
	Create(checklist *model.Checklist) error
	Get(id uint) (*model.Checklist, error)
	List() ([]model.Checklist, error)
	Update(checklist *model.Checklist) error
	Delete(id uint) error

	AddItem(item *model.ChecklistItem) error
	UpdateItem(item *model.ChecklistItem) error
	DeleteItem(id uint) error
}

type checklistService struct {
	repo repository.ChecklistRepository
}

// NewChecklistService creates a new ChecklistService instance.
func NewChecklistService(repo repository.ChecklistRepository) ChecklistService {
	return &checklistService{repo: repo}
}

func (s *checklistService) Create(checklist *model.Checklist) error {
	if checklist.Name == "" {
		return fmt.Errorf("checklist name must not be empty")
	}
	if err := validateItems(checklist.Items); err != nil {
		return err
	}
	if err := s.repo.Create(checklist); err != nil {
		return fmt.Errorf("failed to create checklist: %w", err)
	}
	log.Infof("[ChecklistService] checklist %d created with %d items", checklist.ID, len(checklist.Items))
	return nil
}

func (s *checklistService) Get(id uint) (*model.Checklist, error) {
	checklist, err := s.repo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("checklist %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return checklist, nil
}

func (s *checklistService) List() ([]model.Checklist, error) {
	return s.repo.FindAll()
}

func (s *checklistService) Update(checklist *model.Checklist) error {
	if _, err := s.Get(checklist.ID); err != nil {
		return err
	}
	return s.repo.Update(checklist)
}

func (s *checklistService) Delete(id uint) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return s.repo.Delete(id)
}

func (s *checklistService) AddItem(item *model.ChecklistItem) error {
	if err := validateItem(item); err != nil {
		return err
	}
	if _, err := s.Get(item.ChecklistID); err != nil {
		return err
	}
	return s.repo.AddItem(item)
}

func (s *checklistService) UpdateItem(item *model.ChecklistItem) error {
	if err := validateItem(item); err != nil {
		return err
	}
	return s.repo.UpdateItem(item)
}

func (s *checklistService) DeleteItem(id uint) error {
	return s.repo.DeleteItem(id)
}

func validateItems(items []model.ChecklistItem) error {
	for i := range items {
		if err := validateItem(&items[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateItem(item *model.ChecklistItem) error {
	if item.Text == "" {
		return fmt.Errorf("item text must not be empty")
	}
	if item.Kind != model.ItemKindQuestion && item.Kind != model.ItemKindCondition {
		return fmt.Errorf("unknown item kind %q", item.Kind)
	}
	return nil
}
