package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process, mutex-guarded Store implementation. It
// satisfies the full Store contract (including workflow cancellation) so
// it can exercise the engine's unit tests without a database, and so
// callers can unit test their own workflow functions without standing up
// Postgres.
type MemoryStore struct {
	mu        sync.Mutex
	steps     map[string]map[string]StepRecord // workflowID -> stepKey -> record
	workflows map[string]WorkflowRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		steps:     make(map[string]map[string]StepRecord),
		workflows: make(map[string]WorkflowRecord),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Find(_ context.Context, workflowID, stepKey string) (*StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.steps[workflowID]
	if !ok {
		return nil, nil
	}
	rec, ok := wf[stepKey]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (s *MemoryStore) MarkRunning(_ context.Context, workflowID, stepKey, stepName string, sequenceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.steps[workflowID]
	if !ok {
		wf = make(map[string]StepRecord)
		s.steps[workflowID] = wf
	}

	now := time.Now()
	createdAt := now
	if existing, ok := wf[stepKey]; ok {
		createdAt = existing.CreatedAt
	}

	wf[stepKey] = StepRecord{
		WorkflowID: workflowID,
		StepKey:    stepKey,
		StepName:   stepName,
		SequenceID: sequenceID,
		Status:     StatusRunning,
		RetryCount: 0,
		CreatedAt:  createdAt,
		UpdatedAt:  now,
	}
	return nil
}

func (s *MemoryStore) MarkCompleted(_ context.Context, workflowID, stepKey, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.steps[workflowID]
	if !ok {
		return nil
	}
	rec, ok := wf[stepKey]
	if !ok {
		return nil
	}
	rec.Status = StatusCompleted
	rec.Output = &output
	rec.UpdatedAt = time.Now()
	wf[stepKey] = rec
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, workflowID, stepKey, errMsg string, retryCount *int, nextRetryAtMs *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.steps[workflowID]
	if !ok {
		return nil
	}
	rec, ok := wf[stepKey]
	if !ok {
		return nil
	}
	rec.Status = StatusFailed
	rec.Error = &errMsg
	if retryCount != nil {
		rec.RetryCount = *retryCount
	}
	rec.NextRetryAt = nextRetryAtMs
	rec.UpdatedAt = time.Now()
	wf[stepKey] = rec
	return nil
}

func (s *MemoryStore) UpsertWorkflow(_ context.Context, workflowID string, status WorkflowStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	createdAt := now
	if existing, ok := s.workflows[workflowID]; ok {
		createdAt = existing.CreatedAt
	}
	s.workflows[workflowID] = WorkflowRecord{
		WorkflowID: workflowID,
		Status:     status,
		CreatedAt:  createdAt,
		UpdatedAt:  now,
	}
	return nil
}

func (s *MemoryStore) GetWorkflowStatus(_ context.Context, workflowID string) (WorkflowStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.workflows[workflowID]
	if !ok {
		return "", false, nil
	}
	return rec.Status, true, nil
}

func (s *MemoryStore) IsCancelled(ctx context.Context, workflowID string) (bool, error) {
	status, found, err := s.GetWorkflowStatus(ctx, workflowID)
	if err != nil {
		return false, err
	}
	return found && status == WorkflowCancelled, nil
}

func (s *MemoryStore) CancelWorkflow(ctx context.Context, workflowID string) error {
	return s.UpsertWorkflow(ctx, workflowID, WorkflowCancelled)
}

func (s *MemoryStore) GetCompletedSteps(_ context.Context, workflowID string) ([]StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.steps[workflowID]
	if !ok {
		return nil, nil
	}

	out := make([]StepRecord, 0, len(wf))
	for _, rec := range wf {
		if rec.Status == StatusCompleted {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceID < out[j].SequenceID })
	return out, nil
}
