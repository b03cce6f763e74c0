package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"checkdoc-go/internal/config"
	"checkdoc-go/internal/generation"
	"checkdoc-go/internal/model"
	"checkdoc-go/internal/repository"
	"checkdoc-go/pkg/log"
	"checkdoc-go/pkg/tasks"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound marks lookups of documents, checklists or runs that do not
// exist.
var ErrNotFound = errors.New("not found")

// ErrRunNotCancellable is returned when a cancel request hits a run that
// already reached a terminal state.
var ErrRunNotCancellable = errors.New("run is already finished")

// RunTaskPublisher hands run tasks to the queue.
type RunTaskPublisher interface {
	PublishRunTask(ctx context.Context, task tasks.ChecklistRunTask) error
}

// EvidenceRetriever fetches the evidence chunks for one item text.
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, query string, documentID string) ([]model.ScoredChunk, error)
}

// ItemEvaluator answers one item from its evidence.
type ItemEvaluator interface {
	Evaluate(ctx context.Context, item model.ChecklistItem, evidence []model.ScoredChunk, language string) (*generation.Answer, error)
}

// RunService creates, executes, cancels and reads checklist runs.
type RunService interface {
	CreateRun(ctx context.Context, checklistID uint, documentID string, language string) (*model.ChecklistRun, error)
	GetRun(id string) (*model.ChecklistRun, error)
	ListRuns(checklistID uint) ([]model.ChecklistRun, error)
	CancelRun(ctx context.Context, id string) error
	GetProgress(ctx context.Context, runID string) (*repository.RunProgress, error)

	// ExecuteRun is invoked by the queue consumer and drives one run to a
	// terminal state.
	ExecuteRun(ctx context.Context, task tasks.ChecklistRunTask) error
}

type runService struct {
	runRepo       repository.RunRepository
	checklistRepo repository.ChecklistRepository
	docRepo       repository.DocumentRepository
	retriever     EvidenceRetriever
	generator     ItemEvaluator
	publisher     RunTaskPublisher
	workers       int
	callTimeout   time.Duration
}

// NewRunService creates a new RunService instance.
func NewRunService(
	runRepo repository.RunRepository,
	checklistRepo repository.ChecklistRepository,
	docRepo repository.DocumentRepository,
	retriever EvidenceRetriever,
	generator ItemEvaluator,
	publisher RunTaskPublisher,
) RunService {
	workers := config.Conf.Run.Workers
	if workers <= 0 {
		workers = 4
	}
	timeout := time.Duration(config.Conf.Run.CallTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &runService{
		runRepo:       runRepo,
		checklistRepo: checklistRepo,
		docRepo:       docRepo,
		retriever:     retriever,
		generator:     generator,
		publisher:     publisher,
		workers:       workers,
		callTimeout:   timeout,
	}
}

func (s *runService) CreateRun(ctx context.Context, checklistID uint, documentID string, language string) (*model.ChecklistRun, error) {
	if _, err := s.checklistRepo.FindByID(checklistID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("checklist %d: %w", checklistID, ErrNotFound)
		}
		return nil, err
	}
	if _, err := s.docRepo.FindByID(documentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("document %s: %w", documentID, ErrNotFound)
		}
		return nil, err
	}

	if language != "en" {
		language = "de"
	}

	run := &model.ChecklistRun{
		ID:          uuid.New().String(),
		ChecklistID: checklistID,
		DocumentID:  documentID,
		Language:    language,
		Status:      model.RunStatusPending,
	}
	if err := s.runRepo.Create(run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	if err := s.publisher.PublishRunTask(ctx, tasks.ChecklistRunTask{RunID: run.ID}); err != nil {
		// The row stays pending; a requeue or manual retry can pick it up.
		log.Errorf("[RunService] failed to publish run task %s: %v", run.ID, err)
		return nil, fmt.Errorf("failed to enqueue run: %w", err)
	}

	log.Infof("[RunService] run %s created for checklist %d on document %s", run.ID, checklistID, documentID)
	return run, nil
}

func (s *runService) GetRun(id string) (*model.ChecklistRun, error) {
	run, err := s.runRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return run, nil
}

func (s *runService) ListRuns(checklistID uint) ([]model.ChecklistRun, error) {
	return s.runRepo.FindAll(checklistID)
}

// CancelRun flags a pending or running run for cancellation. The
// orchestrator honors the flag between item dispatches; items already in
// flight finish normally.
func (s *runService) CancelRun(ctx context.Context, id string) error {
	run, err := s.GetRun(id)
	if err != nil {
		return err
	}
	if run.Status != model.RunStatusPending && run.Status != model.RunStatusRunning {
		return ErrRunNotCancellable
	}
	if err := s.runRepo.SetCancelFlag(ctx, id); err != nil {
		return fmt.Errorf("failed to set cancel flag: %w", err)
	}
	log.Infof("[RunService] run %s flagged for cancellation", id)
	return nil
}

func (s *runService) GetProgress(ctx context.Context, runID string) (*repository.RunProgress, error) {
	return s.runRepo.GetProgress(ctx, runID)
}

// ExecuteRun drives one run to a terminal state. Items are evaluated by a
// bounded worker pool; outcomes keep the checklist's declared order no
// matter which worker finishes first.
func (s *runService) ExecuteRun(ctx context.Context, task tasks.ChecklistRunTask) error {
	run, err := s.runRepo.FindByID(task.RunID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", task.RunID, err)
	}
	if run.Status != model.RunStatusPending {
		log.Warnf("[RunService] run %s is %s, skipping execution", run.ID, run.Status)
		return nil
	}

	items, err := s.checklistRepo.GetItems(run.ChecklistID)
	if err != nil {
		return s.failRun(run, fmt.Sprintf("failed to load checklist items: %v", err))
	}
	if len(items) == 0 {
		return s.failRun(run, "checklist has no items")
	}

	doc, err := s.docRepo.FindByID(run.DocumentID)
	if err != nil {
		return s.failRun(run, fmt.Sprintf("failed to load document: %v", err))
	}
	if doc.Status != model.DocumentStatusIndexed {
		return s.failRun(run, fmt.Sprintf("document %s is not indexed (status %s)", doc.ID, doc.Status))
	}

	if err := s.runRepo.UpdateStatus(run.ID, model.RunStatusRunning); err != nil {
		return fmt.Errorf("failed to mark run %s running: %w", run.ID, err)
	}
	log.Infof("[RunService] run %s started: %d items, %d workers", run.ID, len(items), s.workers)

	outcomes := make([]*model.ItemOutcome, len(items))
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		done      int
		failed    int
		cancelled bool
	)
	sem := make(chan struct{}, s.workers)
	s.pushProgress(ctx, run.ID, model.RunStatusRunning, len(items), 0, 0)

	dispatched := 0
	for i := range items {
		if flag, err := s.runRepo.IsCancelled(ctx, run.ID); err != nil {
			log.Errorf("[RunService] cancel check failed for run %s: %v", run.ID, err)
		} else if flag {
			cancelled = true
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		dispatched++
		go func(idx int, item model.ChecklistItem) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := s.evaluateItem(ctx, run, item)
			mu.Lock()
			outcomes[idx] = outcome
			done++
			if outcome.Failed {
				failed++
			}
			s.pushProgress(ctx, run.ID, model.RunStatusRunning, len(items), done, failed)
			mu.Unlock()
		}(i, items[i])
	}
	wg.Wait()

	finished := make([]*model.ItemOutcome, 0, dispatched)
	for _, o := range outcomes {
		if o != nil {
			finished = append(finished, o)
		}
	}

	status := model.RunStatusCompleted
	switch {
	case cancelled:
		status = model.RunStatusCancelled
		if err := s.runRepo.ClearCancelFlag(ctx, run.ID); err != nil {
			log.Errorf("[RunService] failed to clear cancel flag for run %s: %v", run.ID, err)
		}
	case failed > 0:
		status = model.RunStatusCompletedWithErrors
	}

	run.Status = status
	run.ConditionsTotal, run.ConditionsMet, run.CompliancePercentage = summarizeConditions(finished)
	if err := s.runRepo.FinishRun(run, finished); err != nil {
		return fmt.Errorf("failed to persist run %s: %w", run.ID, err)
	}

	s.pushProgress(ctx, run.ID, status, len(items), done, failed)
	log.Infof("[RunService] run %s finished with status %s (%d/%d items, %d failed)", run.ID, status, done, len(items), failed)
	return nil
}

// evaluateItem produces exactly one outcome for one item. Errors are
// captured in the outcome; they never abort the run.
func (s *runService) evaluateItem(ctx context.Context, run *model.ChecklistRun, item model.ChecklistItem) *model.ItemOutcome {
	outcome := &model.ItemOutcome{
		RunID:    run.ID,
		ItemID:   item.ID,
		Position: item.Position,
		Kind:     item.Kind,
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	evidence, err := s.retriever.Retrieve(callCtx, item.Text, run.DocumentID)
	if err != nil {
		outcome.Failed = true
		outcome.Error = fmt.Sprintf("retrieval failed: %v", err)
		return outcome
	}

	answer, err := s.generator.Evaluate(callCtx, item, evidence, run.Language)
	if err != nil {
		outcome.Failed = true
		outcome.Error = fmt.Sprintf("evaluation failed: %v", err)
		return outcome
	}

	outcome.Value = answer.Value
	outcome.BoolValue = answer.BoolValue
	outcome.Explanation = answer.Explanation
	outcome.Found = answer.Found
	outcome.Sources = encodeSources(evidence)
	return outcome
}

func (s *runService) failRun(run *model.ChecklistRun, reason string) error {
	log.Errorf("[RunService] run %s failed: %s", run.ID, reason)
	run.Status = model.RunStatusFailed
	run.Error = reason
	if err := s.runRepo.FinishRun(run, nil); err != nil {
		return fmt.Errorf("failed to persist failed run %s: %w", run.ID, err)
	}
	return nil
}

func (s *runService) pushProgress(ctx context.Context, runID, status string, total, done, failed int) {
	err := s.runRepo.PushProgress(ctx, repository.RunProgress{
		RunID:  runID,
		Status: status,
		Total:  total,
		Done:   done,
		Failed: failed,
	})
	if err != nil {
		log.Errorf("[RunService] failed to push progress for run %s: %v", runID, err)
	}
}

// summarizeConditions computes the compliance summary over all condition
// outcomes that produced a result. Runs without conditions report zero
// totals and 0%.
func summarizeConditions(outcomes []*model.ItemOutcome) (total, met int, percentage float64) {
	for _, o := range outcomes {
		if o.Kind != model.ItemKindCondition || o.Failed {
			continue
		}
		total++
		if o.BoolValue {
			met++
		}
	}
	if total > 0 {
		percentage = float64(met) / float64(total) * 100
	}
	return total, met, percentage
}

func encodeSources(evidence []model.ScoredChunk) string {
	if len(evidence) == 0 {
		return ""
	}
	refs := make([]model.ChunkRef, len(evidence))
	for i, hit := range evidence {
		refs[i] = model.ChunkRef{
			DocumentID: hit.Chunk.DocumentID,
			Seq:        hit.Chunk.Seq,
			Score:      hit.Score,
		}
	}
	payload, err := json.Marshal(refs)
	if err != nil {
		return ""
	}
	return string(payload)
}
