package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mohammad-safakhou/cartpilot/internal/store"
	"github.com/mohammad-safakhou/cartpilot/models"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestJournalAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("cartpilot"),
		tcPostgres.WithUsername("cartpilot"),
		tcPostgres.WithPassword("cartpilot"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(time.Minute)),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://cartpilot:cartpilot@%s:%s/cartpilot?sslmode=disable", host, port.Port())

	if err := store.Migrate("", dsn, "up", 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	// applying again is a no-op
	if err := store.Migrate("", dsn, "up", 0); err != nil {
		t.Fatalf("second migrate up: %v", err)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	defer st.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	out := models.OrderOutcome{
		RunID:          "run-1",
		UserID:         "user-1",
		Status:         models.OrderSucceeded,
		Prompt:         "white t-shirt",
		Query:          "white t-shirt",
		Chosen:         &models.ChosenItem{Index: 1, Candidate: models.Candidate{Title: "Tee", Link: "https://shop.test/p/1"}, Response: "1"},
		Screenshot:     []byte("png-bytes"),
		ScreenshotMIME: "image/png",
		Recoveries:     1,
		StartedAt:      now.Add(-time.Minute),
		FinishedAt:     now,
	}
	if err := st.SaveOutcome(ctx, out); err != nil {
		t.Fatalf("SaveOutcome: %v", err)
	}
	if err := st.SaveOutcome(ctx, out); !errors.Is(err, store.ErrOutcomeExists) {
		t.Fatalf("expected ErrOutcomeExists, got %v", err)
	}

	got, err := st.GetOutcome(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetOutcome: %v", err)
	}
	if got.Chosen == nil || got.Chosen.Candidate.Title != "Tee" || got.Recoveries != 1 {
		t.Fatalf("unexpected outcome %#v", got)
	}

	art, err := st.GetScreenshot(ctx, "run-1")
	if err != nil || string(art.Data) != "png-bytes" {
		t.Fatalf("GetScreenshot = %q, %v", art.Data, err)
	}

	list, err := st.ListOutcomes(ctx, "user-1", 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListOutcomes = %d, %v", len(list), err)
	}
	if list, _ := st.ListOutcomes(ctx, "someone-else", 10); len(list) != 0 {
		t.Fatalf("expected no outcomes for another user")
	}

	if err := store.Migrate("", dsn, "down", 0); err != nil {
		t.Fatalf("migrate down: %v", err)
	}
}
