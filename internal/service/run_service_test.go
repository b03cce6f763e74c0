package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"checkdoc-go/internal/generation"
	"checkdoc-go/internal/model"
	"checkdoc-go/internal/repository"
	"checkdoc-go/pkg/llm"
	"checkdoc-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeRunRepo struct {
	mu        sync.Mutex
	runs      map[string]*model.ChecklistRun
	outcomes  map[string][]*model.ItemOutcome
	cancelled map[string]bool
	progress  map[string]repository.RunProgress
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{
		runs:      make(map[string]*model.ChecklistRun),
		outcomes:  make(map[string][]*model.ItemOutcome),
		cancelled: make(map[string]bool),
		progress:  make(map[string]repository.RunProgress),
	}
}

func (f *fakeRunRepo) Create(run *model.ChecklistRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *run
	f.runs[run.ID] = &copied
	return nil
}

func (f *fakeRunRepo) FindByID(id string) (*model.ChecklistRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *run
	return &copied, nil
}

func (f *fakeRunRepo) FindAll(checklistID uint) ([]model.ChecklistRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var runs []model.ChecklistRun
	for _, run := range f.runs {
		if checklistID == 0 || run.ChecklistID == checklistID {
			runs = append(runs, *run)
		}
	}
	return runs, nil
}

func (f *fakeRunRepo) UpdateStatus(id string, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	run.Status = status
	return nil
}

func (f *fakeRunRepo) FinishRun(run *model.ChecklistRun, outcomes []*model.ItemOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.runs[run.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	stored.Status = run.Status
	stored.Error = run.Error
	stored.ConditionsTotal = run.ConditionsTotal
	stored.ConditionsMet = run.ConditionsMet
	stored.CompliancePercentage = run.CompliancePercentage
	f.outcomes[run.ID] = outcomes
	return nil
}

func (f *fakeRunRepo) SetCancelFlag(ctx context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled[runID] = true
	return nil
}

func (f *fakeRunRepo) IsCancelled(ctx context.Context, runID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled[runID], nil
}

func (f *fakeRunRepo) ClearCancelFlag(ctx context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cancelled, runID)
	return nil
}

func (f *fakeRunRepo) PushProgress(ctx context.Context, progress repository.RunProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress[progress.RunID] = progress
	return nil
}

func (f *fakeRunRepo) GetProgress(ctx context.Context, runID string) (*repository.RunProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	progress, ok := f.progress[runID]
	if !ok {
		return nil, nil
	}
	return &progress, nil
}

type fakeChecklistRepo struct {
	checklists map[uint]*model.Checklist
	items      map[uint][]model.ChecklistItem
}

func newFakeChecklistRepo() *fakeChecklistRepo {
	return &fakeChecklistRepo{
		checklists: make(map[uint]*model.Checklist),
		items:      make(map[uint][]model.ChecklistItem),
	}
}

func (f *fakeChecklistRepo) Create(checklist *model.Checklist) error {
	f.checklists[checklist.ID] = checklist
	return nil
}

func (f *fakeChecklistRepo) FindByID(id uint) (*model.Checklist, error) {
	checklist, ok := f.checklists[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return checklist, nil
}

func (f *fakeChecklistRepo) FindAll() ([]model.Checklist, error)       { return nil, nil }
func (f *fakeChecklistRepo) Update(c *model.Checklist) error          { return nil }
func (f *fakeChecklistRepo) Delete(id uint) error                     { return nil }
func (f *fakeChecklistRepo) AddItem(i *model.ChecklistItem) error     { return nil }
func (f *fakeChecklistRepo) UpdateItem(i *model.ChecklistItem) error  { return nil }
func (f *fakeChecklistRepo) DeleteItem(id uint) error                 { return nil }

func (f *fakeChecklistRepo) GetItems(checklistID uint) ([]model.ChecklistItem, error) {
	return f.items[checklistID], nil
}

type fakeDocRepo struct {
	docs map[string]*model.Document
}

func newFakeDocRepo() *fakeDocRepo {
	return &fakeDocRepo{docs: make(map[string]*model.Document)}
}

func (f *fakeDocRepo) Create(doc *model.Document) error { f.docs[doc.ID] = doc; return nil }

func (f *fakeDocRepo) FindByID(id string) (*model.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return doc, nil
}

func (f *fakeDocRepo) FindAll() ([]model.Document, error)                  { return nil, nil }
func (f *fakeDocRepo) Delete(id string) error                              { return nil }
func (f *fakeDocRepo) UpdateStatus(id string, status string) error         { return nil }
func (f *fakeDocRepo) MarkIndexed(id string, chunkCount int) error         { return nil }
func (f *fakeDocRepo) ReplaceChunks(id string, c []*model.Chunk) error     { return nil }
func (f *fakeDocRepo) FindChunks(id string) ([]model.Chunk, error)         { return nil, nil }

type fakeRetriever struct {
	evidence []model.ScoredChunk
	err      error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, documentID string) ([]model.ScoredChunk, error) {
	return f.evidence, f.err
}

type fakeEvaluator struct {
	fn func(item model.ChecklistItem) (*generation.Answer, error)
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, item model.ChecklistItem, evidence []model.ScoredChunk, language string) (*generation.Answer, error) {
	return f.fn(item)
}

type fakePublisher struct {
	mu        sync.Mutex
	published []tasks.ChecklistRunTask
	err       error
}

func (f *fakePublisher) PublishRunTask(ctx context.Context, task tasks.ChecklistRunTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, task)
	return f.err
}

type runFixture struct {
	runRepo       *fakeRunRepo
	checklistRepo *fakeChecklistRepo
	docRepo       *fakeDocRepo
	retriever     *fakeRetriever
	evaluator     *fakeEvaluator
	publisher     *fakePublisher
	service       RunService
}

func newRunFixture(t *testing.T, items []model.ChecklistItem) *runFixture {
	t.Helper()

	f := &runFixture{
		runRepo:       newFakeRunRepo(),
		checklistRepo: newFakeChecklistRepo(),
		docRepo:       newFakeDocRepo(),
		retriever: &fakeRetriever{evidence: []model.ScoredChunk{
			{Chunk: model.EsChunk{DocumentID: "doc-1", Seq: 0, TextContent: "Auszug."}, Score: 0.9},
		}},
		evaluator: &fakeEvaluator{fn: func(item model.ChecklistItem) (*generation.Answer, error) {
			return &generation.Answer{Value: "ok", BoolValue: true, Found: true, Explanation: "ok"}, nil
		}},
		publisher: &fakePublisher{},
	}

	f.checklistRepo.checklists[1] = &model.Checklist{ID: 1, Name: "Prüfkatalog"}
	f.checklistRepo.items[1] = items
	f.docRepo.docs["doc-1"] = &model.Document{ID: "doc-1", Status: model.DocumentStatusIndexed}

	f.service = NewRunService(f.runRepo, f.checklistRepo, f.docRepo, f.retriever, f.evaluator, f.publisher)
	return f
}

func defaultItems() []model.ChecklistItem {
	return []model.ChecklistItem{
		{ID: 10, ChecklistID: 1, Kind: model.ItemKindQuestion, Text: "Wer ist der Auftraggeber?", Position: 0},
		{ID: 11, ChecklistID: 1, Kind: model.ItemKindCondition, Text: "Gibt es eine Unterschrift?", Position: 1},
		{ID: 12, ChecklistID: 1, Kind: model.ItemKindQuestion, Text: "Wann endet der Vertrag?", Position: 2},
	}
}

func (f *runFixture) createPendingRun(t *testing.T) *model.ChecklistRun {
	t.Helper()
	run, err := f.service.CreateRun(context.Background(), 1, "doc-1", "de")
	require.NoError(t, err)
	return run
}

func TestCreateRunDefaultsToGerman(t *testing.T) {
	f := newRunFixture(t, defaultItems())

	run, err := f.service.CreateRun(context.Background(), 1, "doc-1", "")
	require.NoError(t, err)
	assert.Equal(t, "de", run.Language)
	assert.Equal(t, model.RunStatusPending, run.Status)
	assert.Len(t, f.publisher.published, 1)
	assert.Equal(t, run.ID, f.publisher.published[0].RunID)
}

func TestCreateRunUnknownChecklist(t *testing.T) {
	f := newRunFixture(t, defaultItems())

	_, err := f.service.CreateRun(context.Background(), 99, "doc-1", "de")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCreateRunUnknownDocument(t *testing.T) {
	f := newRunFixture(t, defaultItems())

	_, err := f.service.CreateRun(context.Background(), 1, "missing", "de")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestExecuteRunCompletes(t *testing.T) {
	f := newRunFixture(t, defaultItems())
	run := f.createPendingRun(t)

	err := f.service.ExecuteRun(context.Background(), tasks.ChecklistRunTask{RunID: run.ID})
	require.NoError(t, err)

	stored, err := f.runRepo.FindByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, stored.Status)

	outcomes := f.runRepo.outcomes[run.ID]
	require.Len(t, outcomes, 3)
	for i, outcome := range outcomes {
		assert.Equal(t, i, outcome.Position)
		assert.False(t, outcome.Failed)
		assert.True(t, outcome.Found)
		assert.NotEmpty(t, outcome.Sources)
	}

	// One condition, met.
	assert.Equal(t, 1, stored.ConditionsTotal)
	assert.Equal(t, 1, stored.ConditionsMet)
	assert.Equal(t, 100.0, stored.CompliancePercentage)
}

func TestExecuteRunItemFailureDoesNotAbortTheRun(t *testing.T) {
	f := newRunFixture(t, defaultItems())
	f.evaluator.fn = func(item model.ChecklistItem) (*generation.Answer, error) {
		if item.ID == 11 {
			return nil, fmt.Errorf("model unavailable")
		}
		return &generation.Answer{Value: "ok", Found: true}, nil
	}
	run := f.createPendingRun(t)

	err := f.service.ExecuteRun(context.Background(), tasks.ChecklistRunTask{RunID: run.ID})
	require.NoError(t, err)

	stored, err := f.runRepo.FindByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompletedWithErrors, stored.Status)

	outcomes := f.runRepo.outcomes[run.ID]
	require.Len(t, outcomes, 3)
	assert.False(t, outcomes[0].Failed)
	assert.True(t, outcomes[1].Failed)
	assert.Contains(t, outcomes[1].Error, "model unavailable")
	assert.False(t, outcomes[2].Failed)

	// The failed condition is excluded from the summary.
	assert.Equal(t, 0, stored.ConditionsTotal)
}

func TestExecuteRunEmptyChecklistFails(t *testing.T) {
	f := newRunFixture(t, nil)
	run := f.createPendingRun(t)

	err := f.service.ExecuteRun(context.Background(), tasks.ChecklistRunTask{RunID: run.ID})
	require.NoError(t, err)

	stored, err := f.runRepo.FindByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "no items")
}

func TestExecuteRunUnindexedDocumentFails(t *testing.T) {
	f := newRunFixture(t, defaultItems())
	f.docRepo.docs["doc-1"].Status = model.DocumentStatusIndexing
	run := f.createPendingRun(t)

	err := f.service.ExecuteRun(context.Background(), tasks.ChecklistRunTask{RunID: run.ID})
	require.NoError(t, err)

	stored, err := f.runRepo.FindByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "not indexed")
}

func TestExecuteRunHonorsCancellation(t *testing.T) {
	f := newRunFixture(t, defaultItems())
	run := f.createPendingRun(t)
	require.NoError(t, f.runRepo.SetCancelFlag(context.Background(), run.ID))

	err := f.service.ExecuteRun(context.Background(), tasks.ChecklistRunTask{RunID: run.ID})
	require.NoError(t, err)

	stored, err := f.runRepo.FindByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, stored.Status)
	assert.Empty(t, f.runRepo.outcomes[run.ID])
}

func TestExecuteRunSkipsFinishedRuns(t *testing.T) {
	f := newRunFixture(t, defaultItems())
	run := f.createPendingRun(t)
	require.NoError(t, f.runRepo.UpdateStatus(run.ID, model.RunStatusCompleted))

	err := f.service.ExecuteRun(context.Background(), tasks.ChecklistRunTask{RunID: run.ID})
	require.NoError(t, err)
	assert.Empty(t, f.runRepo.outcomes[run.ID])
}

func TestCancelRunRejectsFinishedRuns(t *testing.T) {
	f := newRunFixture(t, defaultItems())
	run := f.createPendingRun(t)
	require.NoError(t, f.runRepo.UpdateStatus(run.ID, model.RunStatusCompleted))

	err := f.service.CancelRun(context.Background(), run.ID)
	assert.True(t, errors.Is(err, ErrRunNotCancellable))
}

// scenarioLLM mimics a model that reads the labeled excerpts: it answers
// the format question and evaluates the deadline condition from the
// evidence embedded in the prompt.
type scenarioLLM struct {
	mu    sync.Mutex
	calls int
}

func (s *scenarioLLM) Complete(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	prompt := messages[len(messages)-1].Content
	if strings.Contains(prompt, "Condition to evaluate") {
		return `{"value": true, "explanation": "The deadline 2025-11-30 is before 2025-12-31.", "found": true}`, nil
	}
	return `{"value": "electronically", "explanation": "Submissions must be made electronically.", "found": true}`, nil
}

func scenarioItems() []model.ChecklistItem {
	return []model.ChecklistItem{
		{ID: 20, ChecklistID: 1, Kind: model.ItemKindQuestion, Text: "What is the submission format?", Position: 0},
		{ID: 21, ChecklistID: 1, Kind: model.ItemKindCondition, Text: "Is the deadline before 2025-12-31?", Position: 1},
	}
}

func TestRunAnswersFromDocumentEvidence(t *testing.T) {
	f := newRunFixture(t, scenarioItems())
	f.retriever.evidence = []model.ScoredChunk{
		{Chunk: model.EsChunk{DocumentID: "doc-1", Seq: 0, TextContent: "Submissions must be made electronically. The deadline is 2025-11-30."}, Score: 0.95},
	}
	f.service = NewRunService(f.runRepo, f.checklistRepo, f.docRepo, f.retriever, generation.NewGenerator(&scenarioLLM{}), f.publisher)
	run := f.createPendingRun(t)

	require.NoError(t, f.service.ExecuteRun(context.Background(), tasks.ChecklistRunTask{RunID: run.ID}))

	stored, err := f.runRepo.FindByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, stored.Status)

	outcomes := f.runRepo.outcomes[run.ID]
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Found)
	assert.Contains(t, outcomes[0].Value, "electronically")
	assert.True(t, outcomes[1].Found)
	assert.True(t, outcomes[1].BoolValue)
	assert.Equal(t, 100.0, stored.CompliancePercentage)
}

func TestRunWithoutRelevantEvidenceFabricatesNothing(t *testing.T) {
	f := newRunFixture(t, scenarioItems())
	f.retriever.evidence = nil
	mock := &scenarioLLM{}
	f.service = NewRunService(f.runRepo, f.checklistRepo, f.docRepo, f.retriever, generation.NewGenerator(mock), f.publisher)
	run := f.createPendingRun(t)

	require.NoError(t, f.service.ExecuteRun(context.Background(), tasks.ChecklistRunTask{RunID: run.ID}))

	stored, err := f.runRepo.FindByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, stored.Status)

	outcomes := f.runRepo.outcomes[run.ID]
	require.Len(t, outcomes, 2)
	for _, outcome := range outcomes {
		assert.False(t, outcome.Found)
		assert.False(t, outcome.Failed)
	}
	assert.Empty(t, outcomes[0].Value)
	assert.False(t, outcomes[1].BoolValue)
	assert.Equal(t, 0, mock.calls)
	assert.Equal(t, 1, stored.ConditionsTotal)
	assert.Equal(t, 0, stored.ConditionsMet)
}

func TestCancelRunSetsFlag(t *testing.T) {
	f := newRunFixture(t, defaultItems())
	run := f.createPendingRun(t)

	require.NoError(t, f.service.CancelRun(context.Background(), run.ID))
	cancelled, err := f.runRepo.IsCancelled(context.Background(), run.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)
}
