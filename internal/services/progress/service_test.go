package progress_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"treasure-map/server/internal/quest"
	"treasure-map/server/internal/services/progress"
	"treasure-map/server/internal/services/session"
	"treasure-map/server/internal/testutils"
)

func newService(t *testing.T, dbConn *sql.DB, reg *quest.Registry) progress.Service {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg := testutils.GetTestConfig()
	sessions := session.NewSessionService(cfg, logger, dbConn)
	svc := progress.NewProgressService(cfg, logger, dbConn, reg, sessions)
	t.Cleanup(svc.Shutdown)
	return svc
}

var (
	goPayload     = quest.Payload{Flags: map[string]bool{"go": true}}
	passQuiz      = quest.Payload{Score: 8, MaxScore: 10}
	failQuiz      = quest.Payload{Score: 5, MaxScore: 10}
	runnerPayload = quest.Payload{Score: 140}
)

func complete(t *testing.T, svc progress.Service, sessionID, questID string, p quest.Payload) quest.Change {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.StartQuest(ctx, sessionID, questID); err != nil {
		t.Fatalf("StartQuest(%s) failed: %v", questID, err)
	}
	c, err := svc.RecordCompletion(ctx, sessionID, questID, p)
	if err != nil {
		t.Fatalf("RecordCompletion(%s) failed: %v", questID, err)
	}
	return c
}

func TestProgressService_FreshSession(t *testing.T) {
	dbConn := testutils.SetupTestDB(t)
	svc := newService(t, dbConn, testutils.TestRegistry(t))
	sessionID, _ := testutils.CreateTestSession(t, dbConn)

	snap, err := svc.GetState(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if snap.Version != 0 {
		t.Errorf("expected version 0, got %d", snap.Version)
	}
	want := map[string]quest.Status{
		"start":  quest.StatusAvailable,
		"quiz":   quest.StatusLocked,
		"runner": quest.StatusLocked,
		"final":  quest.StatusLocked,
	}
	for id, status := range want {
		if got := snap.State.Status(id); got != status {
			t.Errorf("quest %s: got %s, want %s", id, got, status)
		}
	}
}

func TestProgressService_UnlockChain(t *testing.T) {
	dbConn := testutils.SetupTestDB(t)
	svc := newService(t, dbConn, testutils.TestRegistry(t))
	sessionID, _ := testutils.CreateTestSession(t, dbConn)
	ctx := context.Background()

	c := complete(t, svc, sessionID, "start", goPayload)
	if c.Kind != quest.ChangeCompleted {
		t.Fatalf("expected completion, got %s", c.Kind)
	}
	if len(c.Unlocked) != 2 || c.Unlocked[0] != "quiz" || c.Unlocked[1] != "runner" {
		t.Errorf("unexpected unlocks: %v", c.Unlocked)
	}

	if _, err := svc.StartQuest(ctx, sessionID, "quiz"); err != nil {
		t.Fatalf("StartQuest(quiz) failed: %v", err)
	}
	c, err := svc.RecordCompletion(ctx, sessionID, "quiz", failQuiz)
	if err != nil {
		t.Fatalf("RecordCompletion with failing payload returned error: %v", err)
	}
	if c.Passed || c.Kind != quest.ChangeNone {
		t.Errorf("failing payload changed progress: %+v", c)
	}
	c, err = svc.RecordCompletion(ctx, sessionID, "quiz", passQuiz)
	if err != nil {
		t.Fatalf("RecordCompletion failed: %v", err)
	}
	if len(c.Unlocked) != 0 {
		t.Errorf("final needs the runner too, got unlocks %v", c.Unlocked)
	}

	c = complete(t, svc, sessionID, "runner", runnerPayload)
	if len(c.Unlocked) != 1 || c.Unlocked[0] != "final" {
		t.Errorf("expected final unlocked, got %v", c.Unlocked)
	}

	snap, err := svc.GetState(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if snap.State.Points != 15 {
		t.Errorf("expected 15 points, got %d", snap.State.Points)
	}
	if !snap.State.HasReward("hat") || !snap.State.HasReward("badge_start") {
		t.Errorf("rewards missing: %v", snap.State.Rewards)
	}
	if snap.Version != 6 {
		t.Errorf("expected version 6, got %d", snap.Version)
	}
}

func TestProgressService_Errors(t *testing.T) {
	dbConn := testutils.SetupTestDB(t)
	svc := newService(t, dbConn, testutils.TestRegistry(t))
	sessionID, _ := testutils.CreateTestSession(t, dbConn)
	ctx := context.Background()

	if _, err := svc.StartQuest(ctx, sessionID, "kraken"); !errors.Is(err, quest.ErrUnknownQuest) {
		t.Errorf("expected ErrUnknownQuest, got %v", err)
	}
	if _, err := svc.StartQuest(ctx, sessionID, "quiz"); !errors.Is(err, quest.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := svc.RecordCompletion(ctx, sessionID, "start", goPayload); !errors.Is(err, quest.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for completion before start, got %v", err)
	}
	if _, err := svc.GetState(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, progress.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	snap, err := svc.GetState(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if snap.Version != 0 {
		t.Errorf("rejected operations must not bump the version, got %d", snap.Version)
	}
}

func TestProgressService_ReloadsFromDatabase(t *testing.T) {
	dbConn := testutils.SetupTestDB(t)
	reg := testutils.TestRegistry(t)
	sessionID, _ := testutils.CreateTestSession(t, dbConn)
	ctx := context.Background()

	first := newService(t, dbConn, reg)
	complete(t, first, sessionID, "start", goPayload)
	complete(t, first, sessionID, "runner", runnerPayload)
	before, err := first.GetState(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	first.Shutdown()

	second := newService(t, dbConn, reg)
	after, err := second.GetState(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetState after reload failed: %v", err)
	}
	if !before.State.Equal(after.State) {
		t.Errorf("reloaded state differs:\nbefore %+v\nafter  %+v", before.State, after.State)
	}
	if after.Version != before.Version {
		t.Errorf("version not resumed: %d != %d", after.Version, before.Version)
	}

	// The repeatable runner keeps paying out after the reload and the
	// ledger versions continue.
	c, err := second.RecordCompletion(ctx, sessionID, "runner", runnerPayload)
	if err != nil {
		t.Fatalf("repeat completion failed: %v", err)
	}
	if c.Kind != quest.ChangeRepeated || c.Version != before.Version+1 {
		t.Errorf("unexpected repeat change: kind=%s version=%d", c.Kind, c.Version)
	}

	events, err := second.ListEvents(ctx, sessionID, 0)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	if events[0].Kind != quest.ChangeRepeated || events[0].PointsAwarded != 5 {
		t.Errorf("newest event mismatch: %+v", events[0])
	}
	for i := 1; i < len(events); i++ {
		if events[i].Version >= events[i-1].Version {
			t.Errorf("events not newest first: %d then %d", events[i-1].Version, events[i].Version)
		}
	}

	limited, err := second.ListEvents(ctx, sessionID, 2)
	if err != nil {
		t.Fatalf("ListEvents with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 events, got %d", len(limited))
	}
}

func TestProgressService_RegistryDrift(t *testing.T) {
	dbConn := testutils.SetupTestDB(t)
	sessionID, _ := testutils.CreateTestSession(t, dbConn)
	ctx := context.Background()

	first := newService(t, dbConn, testutils.TestRegistry(t))
	complete(t, first, sessionID, "start", goPayload)
	first.Shutdown()

	// The new map drops the runner and gates the quiz behind a new quest.
	smaller, err := quest.NewRegistry([]quest.Quest{
		{ID: "start", Criteria: quest.Criteria{Kind: quest.CriteriaInteraction, Flag: "go"}},
		{ID: "boat", Prerequisites: []string{"start"}, Criteria: quest.Criteria{Kind: quest.CriteriaNone}},
		{ID: "quiz", Prerequisites: []string{"boat"}, Criteria: quest.Criteria{Kind: quest.CriteriaNone}},
	}, nil)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	second := newService(t, dbConn, smaller)
	snap, err := second.GetState(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if _, ok := snap.State.Quests["runner"]; ok {
		t.Error("runner should have been dropped")
	}
	if got := snap.State.Status("boat"); got != quest.StatusAvailable {
		t.Errorf("boat: got %s, want available", got)
	}
	if got := snap.State.Status("quiz"); got != quest.StatusLocked {
		t.Errorf("quiz: got %s, want locked", got)
	}
	if snap.State.Points != 10 {
		t.Errorf("points lost in reload: %d", snap.State.Points)
	}
}

func TestProgressService_CloseSession(t *testing.T) {
	dbConn := testutils.SetupTestDB(t)
	svc := newService(t, dbConn, testutils.TestRegistry(t))
	sessionID, _ := testutils.CreateTestSession(t, dbConn)
	ctx := context.Background()

	if _, err := svc.StartQuest(ctx, sessionID, "start"); err != nil {
		t.Fatalf("StartQuest failed: %v", err)
	}
	if err := svc.CloseSession(ctx, sessionID); err != nil {
		t.Fatalf("CloseSession failed: %v", err)
	}
	if _, err := svc.RecordCompletion(ctx, sessionID, "start", goPayload); !errors.Is(err, progress.ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
	if err := svc.CloseSession(ctx, sessionID); !errors.Is(err, progress.ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded on second close, got %v", err)
	}

	// The ledger stays readable after the session ended.
	events, err := svc.ListEvents(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].Kind != quest.ChangeStarted {
		t.Errorf("unexpected ledger: %+v", events)
	}
}

func TestProgressService_PersistenceFailureKeepsState(t *testing.T) {
	dbConn := testutils.SetupTestDB(t)
	svc := newService(t, dbConn, testutils.TestRegistry(t))
	sessionID, _ := testutils.CreateTestSession(t, dbConn)
	ctx := context.Background()

	if _, err := svc.StartQuest(ctx, sessionID, "start"); err != nil {
		t.Fatalf("StartQuest failed: %v", err)
	}
	before, err := svc.GetState(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}

	if _, err := dbConn.Exec("DROP TABLE progress_events"); err != nil {
		t.Fatalf("failed to drop ledger: %v", err)
	}
	if _, err := svc.RecordCompletion(ctx, sessionID, "start", goPayload); err == nil {
		t.Fatal("expected persistence error")
	}

	after, err := svc.GetState(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if !before.State.Equal(after.State) || before.Version != after.Version {
		t.Error("failed write must leave the state untouched")
	}
	if after.State.Status("start") != quest.StatusInProgress {
		t.Errorf("start: got %s, want in_progress", after.State.Status("start"))
	}
}

func TestProgressService_ExpiredSessionReleasesStore(t *testing.T) {
	dbConn := testutils.SetupTestDB(t)
	logger := zaptest.NewLogger(t)
	cfg := testutils.GetTestConfig()
	cfg.JWT.SessionExpiration = 300 * time.Millisecond
	sessions := session.NewSessionService(cfg, logger, dbConn)
	svc := progress.NewProgressService(cfg, logger, dbConn, testutils.TestRegistry(t), sessions)
	t.Cleanup(svc.Shutdown)
	ctx := context.Background()

	sess, err := sessions.CreateSession(ctx, "Kurzbesuch")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := svc.GetState(ctx, sess.SessionID); err != nil {
		t.Fatalf("GetState failed: %v", err)
	}

	time.Sleep(400 * time.Millisecond)

	if _, err := svc.StartQuest(ctx, sess.SessionID, "start"); !errors.Is(err, progress.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired from cached store, got %v", err)
	}
	if _, err := svc.GetState(ctx, sess.SessionID); !errors.Is(err, progress.ErrSessionExpired) {
		t.Errorf("expected ErrSessionExpired after release, got %v", err)
	}

	events, err := svc.ListEvents(ctx, sess.SessionID, 10)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expired session must not record progress, got %d events", len(events))
	}
}

func TestProgressService_ConcurrentFirstUse(t *testing.T) {
	dbConn := testutils.SetupTestDB(t)
	svc := newService(t, dbConn, testutils.TestRegistry(t))
	sessionID, _ := testutils.CreateTestSession(t, dbConn)
	ctx := context.Background()

	const callers = 8
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := svc.GetState(ctx, sessionID)
			errs <- err
		}()
	}
	for i := 0; i < callers; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("GetState failed: %v", err)
		}
	}

	// One shared store means versions continue without ledger conflicts.
	complete(t, svc, sessionID, "start", goPayload)
	snap, err := svc.GetState(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if snap.Version != 2 {
		t.Errorf("expected version 2, got %d", snap.Version)
	}
}
