package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/agent-workbench/internal/domain"
)

func testMergeRequest(t *testing.T, s *Store, attemptID uuid.UUID, remoteID int64) *domain.MergeRequest {
	t.Helper()
	now := time.Now()
	mr := &domain.MergeRequest{
		ID:            uuid.New(),
		TaskAttemptID: attemptID,
		Provider:      domain.ProviderGitHub,
		RemoteID:      remoteID,
		RemoteIID:     remoteID,
		Number:        remoteID,
		Title:         "Fix the parser",
		State:         domain.MRStateOpened,
		SourceBranch:  "task/fix-the-parser-11111111",
		TargetBranch:  "main",
		WebURL:        "https://github.com/acme/widget/pull/7",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.UpsertMergeRequest(mr); err != nil {
		t.Fatalf("UpsertMergeRequest: %v", err)
	}
	return mr
}

func TestMergeRequestUpsertByRemoteID(t *testing.T) {
	s := newTestStore(t)
	p := testProject(t, s)
	task := testTask(t, s, p.ID)
	a := testAttempt(t, s, task.ID)
	mr := testMergeRequest(t, s, a.ID, 7)

	// Same (provider, remote_id) with new state must update, not duplicate.
	dup := *mr
	dup.ID = uuid.New()
	dup.State = domain.MRStateMerged
	now := time.Now()
	dup.MergedAt = &now
	if err := s.UpsertMergeRequest(&dup); err != nil {
		t.Fatalf("UpsertMergeRequest duplicate: %v", err)
	}

	all, err := s.ListMergeRequestsByAttempt(a.ID)
	if err != nil {
		t.Fatalf("ListMergeRequestsByAttempt: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("rows = %d, want 1 (upsert, not insert)", len(all))
	}
	if all[0].State != domain.MRStateMerged {
		t.Errorf("State = %q, want merged", all[0].State)
	}
	if all[0].MergedAt == nil {
		t.Error("MergedAt not persisted")
	}
	// Original primary key wins.
	if all[0].ID != mr.ID {
		t.Errorf("ID = %s, want original %s", all[0].ID, mr.ID)
	}
}

func TestListOpenMergeRequests(t *testing.T) {
	s := newTestStore(t)
	p := testProject(t, s)
	task := testTask(t, s, p.ID)
	a := testAttempt(t, s, task.ID)

	open := testMergeRequest(t, s, a.ID, 1)
	merged := testMergeRequest(t, s, a.ID, 2)
	merged.State = domain.MRStateMerged
	if err := s.UpdateMergeRequestSync(merged); err != nil {
		t.Fatalf("UpdateMergeRequestSync: %v", err)
	}

	got, err := s.ListOpenMergeRequests()
	if err != nil {
		t.Fatalf("ListOpenMergeRequests: %v", err)
	}
	if len(got) != 1 || got[0].ID != open.ID {
		t.Errorf("open list = %v, want only the opened row", got)
	}
}

func TestListMergeRequestsByTask(t *testing.T) {
	s := newTestStore(t)
	p := testProject(t, s)
	task := testTask(t, s, p.ID)
	otherTask := testTask(t, s, p.ID)
	a1 := testAttempt(t, s, task.ID)
	a2 := testAttempt(t, s, task.ID)
	other := testAttempt(t, s, otherTask.ID)

	testMergeRequest(t, s, a1.ID, 1)
	testMergeRequest(t, s, a2.ID, 2)
	testMergeRequest(t, s, other.ID, 3)

	got, err := s.ListMergeRequestsByTask(task.ID)
	if err != nil {
		t.Fatalf("ListMergeRequestsByTask: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("rows = %d, want 2 (joined through both attempts)", len(got))
	}
	for _, mr := range got {
		if mr.TaskAttemptID != a1.ID && mr.TaskAttemptID != a2.ID {
			t.Errorf("unexpected attempt %s in task join", mr.TaskAttemptID)
		}
	}
}

func TestUpdateMergeRequestSyncStampsSyncedAt(t *testing.T) {
	s := newTestStore(t)
	p := testProject(t, s)
	task := testTask(t, s, p.ID)
	a := testAttempt(t, s, task.ID)
	mr := testMergeRequest(t, s, a.ID, 9)

	mr.MergeStatus = "can_be_merged"
	mr.PipelineStatus = "success"
	if err := s.UpdateMergeRequestSync(mr); err != nil {
		t.Fatalf("UpdateMergeRequestSync: %v", err)
	}

	got, err := s.GetMergeRequest(mr.ID)
	if err != nil {
		t.Fatalf("GetMergeRequest: %v", err)
	}
	if got.SyncedAt == nil {
		t.Error("SyncedAt not stamped")
	}
	if got.MergeStatus != "can_be_merged" {
		t.Errorf("MergeStatus = %q", got.MergeStatus)
	}
	if got.PipelineStatus != "success" {
		t.Errorf("PipelineStatus = %q", got.PipelineStatus)
	}
}
