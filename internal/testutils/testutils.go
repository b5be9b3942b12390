package testutils

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"treasure-map/server/internal/db"
	"treasure-map/server/internal/quest"
	"treasure-map/server/internal/services/session"
	"treasure-map/server/pkg/config"
)

func GetTestConfig() config.Config {
	return config.Config{
		Database: config.DatabaseConfig{
			Path: ":memory:",
		},
		Server: config.ServerConfig{
			Host:              "localhost",
			Port:              8080,
			CORSAllowOrigins:  "*",
			RateLimitMax:      1000,
			RateLimitDuration: time.Minute,
		},
		JWT: config.JWTConfig{
			Secret:            "test-secret",
			SessionExpiration: time.Hour,
		},
		Log: config.LogConfig{
			Level: "debug",
		},
	}
}

// SetupTestDB opens a migrated SQLite database in a temporary directory.
// It is closed when the test ends.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbConn, err := db.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { dbConn.Close() })
	if err := db.RunMigrations(dbConn, zaptest.NewLogger(t)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return dbConn
}

// TestRegistry is a small map: "start" (interaction flag "go") unlocks
// "quiz" (70 percent) and the repeatable "runner" (score 100); "final"
// needs both "quiz" and "runner".
func TestRegistry(t *testing.T) *quest.Registry {
	t.Helper()
	reg, err := quest.NewRegistry([]quest.Quest{
		{
			ID:       "start",
			Title:    "Start",
			Island:   "Insel der Lerntechniken",
			Rewards:  []string{"badge_start", "coins_10"},
			Criteria: quest.Criteria{Kind: quest.CriteriaInteraction, Flag: "go"},
		},
		{
			ID:            "quiz",
			Title:         "Quiz",
			Island:        "Bandura-Bucht",
			Prerequisites: []string{"start"},
			Rewards:       []string{"hat"},
			Criteria:      quest.Criteria{Kind: quest.CriteriaQuizScore, MinPercent: 70},
		},
		{
			ID:            "runner",
			Title:         "Runner",
			Island:        "Bandura-Bucht",
			Prerequisites: []string{"start"},
			Rewards:       []string{"coins_5"},
			Criteria:      quest.Criteria{Kind: quest.CriteriaQuizScore, MinScore: 100},
			Repeatable:    true,
		},
		{
			ID:            "final",
			Title:         "Schatz",
			Island:        "Hattie-Hafen",
			Prerequisites: []string{"quiz", "runner"},
			Criteria:      quest.Criteria{Kind: quest.CriteriaNone},
		},
	}, []quest.Reward{
		{ID: "badge_start", Category: quest.RewardBadge, Name: "Start"},
		{ID: "hat", Category: quest.RewardCosmetic, Name: "Hut"},
		{ID: "coins_10", Category: quest.RewardCurrency, Name: "10", Amount: 10},
		{ID: "coins_5", Category: quest.RewardCurrency, Name: "5", Amount: 5},
	})
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}
	return reg
}

// CreateTestSession creates a learner session and returns it with a token.
func CreateTestSession(t *testing.T, dbConn *sql.DB) (string, string) {
	t.Helper()
	svc := session.NewSessionService(GetTestConfig(), zaptest.NewLogger(t), dbConn)
	sess, err := svc.CreateSession(context.Background(), "Testpirat")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	token, err := svc.GenerateToken(sess)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	return sess.SessionID, token
}
