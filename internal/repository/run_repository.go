package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"checkdoc-go/internal/model"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const (
	runCancelKeyFmt   = "run:cancel:%s"
	runProgressKeyFmt = "run:progress:%s"
	runKeyExpiry      = 24 * time.Hour
)

// RunProgress is one progress update of an executing run, published for
// live consumers such as the websocket endpoint.
type RunProgress struct {
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Done      int    `json:"done"`
	Failed    int    `json:"failed"`
	UpdatedAt int64  `json:"updated_at"`
}

// RunRepository persists checklist runs and their outcomes, and tracks the
// volatile run state (cancellation flag, progress stream) in Redis.
type RunRepository interface {
	Create(run *model.ChecklistRun) error
	FindByID(id string) (*model.ChecklistRun, error)
	FindAll(checklistID uint) ([]model.ChecklistRun, error)
	UpdateStatus(id string, status string) error
	// FinishRun stores the outcomes and the final summary in one
	// transaction so a run is never visible half-finished.
	FinishRun(run *model.ChecklistRun, outcomes []*model.ItemOutcome) error

	SetCancelFlag(ctx context.Context, runID string) error
	IsCancelled(ctx context.Context, runID string) (bool, error)
	ClearCancelFlag(ctx context.Context, runID string) error

	PushProgress(ctx context.Context, progress RunProgress) error
	GetProgress(ctx context.Context, runID string) (*RunProgress, error)
}

type runRepository struct {
	db  *gorm.DB
	rdb *redis.Client
}

// NewRunRepository creates a new RunRepository instance.
func NewRunRepository(db *gorm.DB, rdb *redis.Client) RunRepository {
	return &runRepository{db: db, rdb: rdb}
}

func (r *runRepository) Create(run *model.ChecklistRun) error {
	return r.db.Create(run).Error
}

func (r *runRepository) FindByID(id string) (*model.ChecklistRun, error) {
	var run model.ChecklistRun
	err := r.db.Preload("Outcomes", func(db *gorm.DB) *gorm.DB {
		return db.Order("position asc")
	}).Where("id = ?", id).First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *runRepository) FindAll(checklistID uint) ([]model.ChecklistRun, error) {
	var runs []model.ChecklistRun
	query := r.db.Order("created_at desc")
	if checklistID != 0 {
		query = query.Where("checklist_id = ?", checklistID)
	}
	err := query.Find(&runs).Error
	return runs, err
}

func (r *runRepository) UpdateStatus(id string, status string) error {
	return r.db.Model(&model.ChecklistRun{}).Where("id = ?", id).Update("status", status).Error
}

func (r *runRepository) FinishRun(run *model.ChecklistRun, outcomes []*model.ItemOutcome) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if len(outcomes) > 0 {
			if err := tx.Create(outcomes).Error; err != nil {
				return err
			}
		}
		now := time.Now()
		return tx.Model(&model.ChecklistRun{}).Where("id = ?", run.ID).Updates(map[string]interface{}{
			"status":                run.Status,
			"error":                 run.Error,
			"conditions_total":      run.ConditionsTotal,
			"conditions_met":        run.ConditionsMet,
			"compliance_percentage": run.CompliancePercentage,
			"finished_at":           &now,
		}).Error
	})
}

func (r *runRepository) SetCancelFlag(ctx context.Context, runID string) error {
	key := fmt.Sprintf(runCancelKeyFmt, runID)
	return r.rdb.Set(ctx, key, "1", runKeyExpiry).Err()
}

func (r *runRepository) IsCancelled(ctx context.Context, runID string) (bool, error) {
	key := fmt.Sprintf(runCancelKeyFmt, runID)
	_, err := r.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *runRepository) ClearCancelFlag(ctx context.Context, runID string) error {
	key := fmt.Sprintf(runCancelKeyFmt, runID)
	return r.rdb.Del(ctx, key).Err()
}

func (r *runRepository) PushProgress(ctx context.Context, progress RunProgress) error {
	progress.UpdatedAt = time.Now().Unix()
	payload, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal run progress: %w", err)
	}
	key := fmt.Sprintf(runProgressKeyFmt, progress.RunID)
	return r.rdb.Set(ctx, key, payload, runKeyExpiry).Err()
}

func (r *runRepository) GetProgress(ctx context.Context, runID string) (*RunProgress, error) {
	key := fmt.Sprintf(runProgressKeyFmt, runID)
	payload, err := r.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var progress RunProgress
	if err := json.Unmarshal([]byte(payload), &progress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run progress: %w", err)
	}
	return &progress, nil
}
