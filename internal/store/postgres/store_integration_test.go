package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"meditoken/internal/models"
	"meditoken/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

func TestConcurrentRegistrationsGetDistinctNumbers(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	clinicID := uuid.NewString()
	for i := 0; i < 5; i++ {
		insertToken(t, ctx, st, clinicID, 0)
	}

	var wg sync.WaitGroup
	numbers := make(chan int, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			patient, err := st.InsertToken(ctx, store.InsertTokenInput{ClinicID: clinicID, Name: "racer"})
			if err != nil {
				t.Errorf("insert: %v", err)
				return
			}
			numbers <- patient.TokenNumber
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[int]bool{}
	for number := range numbers {
		if seen[number] {
			t.Fatalf("token number %d issued twice", number)
		}
		seen[number] = true
	}
	for want := 6; want <= 13; want++ {
		if !seen[want] {
			t.Fatalf("expected token %d, got %v", want, seen)
		}
	}
}

func TestExplicitDuplicateNumberIsRejected(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	clinicID := uuid.NewString()
	insertToken(t, ctx, st, clinicID, 6)
	_, err := st.InsertToken(ctx, store.InsertTokenInput{ClinicID: clinicID, Name: "second", TokenNumber: 6})
	if !errors.Is(err, store.ErrDuplicateToken) {
		t.Fatalf("expected ErrDuplicateToken, got %v", err)
	}

	next := insertToken(t, ctx, st, clinicID, 0)
	if next.TokenNumber != 7 {
		t.Fatalf("counter must follow explicit numbers, got %d", next.TokenNumber)
	}
}

func TestDeleteAllTokensRestartsAtOne(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	clinicID := uuid.NewString()
	other := uuid.NewString()
	insertToken(t, ctx, st, clinicID, 0)
	insertToken(t, ctx, st, clinicID, 0)
	insertToken(t, ctx, st, other, 0)

	if err := st.DeleteAllTokens(ctx, clinicID); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	tokens, err := st.ListTokens(ctx, clinicID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tokens) != 0 {
		t.Fatalf("expected empty clinic, got %d", len(tokens))
	}
	if next := insertToken(t, ctx, st, clinicID, 0); next.TokenNumber != 1 {
		t.Fatalf("expected token 1 after reset, got %d", next.TokenNumber)
	}
	if remaining, _ := st.ListTokens(ctx, other); len(remaining) != 1 {
		t.Fatalf("reset must not touch other clinics")
	}
}

func TestUpdateStatusAndEventChain(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	clinicID := uuid.NewString()
	patient := insertToken(t, ctx, st, clinicID, 0)

	called, err := st.UpdateTokenStatus(ctx, store.UpdateStatusInput{
		ClinicID:  clinicID,
		PatientID: patient.ID,
		Status:    models.StatusInProgress,
		CabinID:   models.StringPtr("cab-1"),
		DoctorID:  models.StringPtr("doc-1"),
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if models.StringValue(called.CabinID) != "cab-1" {
		t.Fatalf("expected cabin binding, got %+v", called)
	}
	if _, err := st.UpdateTokenStatus(ctx, store.UpdateStatusInput{ClinicID: clinicID, PatientID: patient.ID, Status: models.StatusCancelled}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, err := st.UpdateTokenStatus(ctx, store.UpdateStatusInput{ClinicID: clinicID, PatientID: patient.ID, Status: models.StatusCompleted, CabinID: called.CabinID, DoctorID: called.DoctorID}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := st.UpdateTokenStatus(ctx, store.UpdateStatusInput{ClinicID: clinicID, PatientID: uuid.NewString(), Status: models.StatusCompleted}); !errors.Is(err, store.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}

	events, err := st.ListTokenEvents(ctx, clinicID, patient.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if err := store.VerifyTokenEvents(events); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestSubscribeReceivesNotifications(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	clinicID := uuid.NewString()
	signals := make(chan struct{}, 4)
	unsubscribe, err := st.SubscribeToChanges(ctx, clinicID, func() {
		select {
		case signals <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	// The listen loop connects asynchronously.
	deadline := time.Now().Add(5 * time.Second)
	for {
		insertToken(t, ctx, st, clinicID, 0)
		select {
		case <-signals:
			return
		case <-time.After(200 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatalf("no change notification received")
		}
	}
}

func TestDirectoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	tenant, err := st.SaveTenant(ctx, models.Tenant{
		Name:             "City Clinic",
		Specialties:      []string{"ENT"},
		OperationTimings: []models.OperationTime{{Days: []string{"MON"}, StartTime: "09:00", EndTime: "13:00"}},
		IsTokenBased:     true,
	})
	if err != nil {
		t.Fatalf("save tenant: %v", err)
	}
	loaded, err := st.GetTenant(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("get tenant: %v", err)
	}
	if len(loaded.OperationTimings) != 1 || loaded.Specialties[0] != "ENT" {
		t.Fatalf("unexpected tenant: %+v", loaded)
	}

	if _, err := st.SaveDoctorMapping(ctx, models.DoctorClinicMapping{DoctorID: "missing", ClinicID: tenant.ID}); !errors.Is(err, store.ErrDoctorNotFound) {
		t.Fatalf("expected ErrDoctorNotFound, got %v", err)
	}

	cabins, err := st.ListCabins(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("list cabins: %v", err)
	}
	if len(cabins) != 4 {
		t.Fatalf("expected default cabins, got %d", len(cabins))
	}
	cabins[1].CurrentDoctorID = models.StringPtr("doc-1")
	if err := st.SaveCabins(ctx, tenant.ID, cabins); err != nil {
		t.Fatalf("save cabins: %v", err)
	}
	saved, _ := st.ListCabins(ctx, tenant.ID)
	if saved[1].ID != "cab-2" || models.StringValue(saved[1].CurrentDoctorID) != "doc-1" || saved[0].CurrentDoctorID != nil {
		t.Fatalf("unexpected cabins: %+v", saved)
	}
}

func insertToken(t *testing.T, ctx context.Context, st *Store, clinicID string, number int) models.Patient {
	t.Helper()
	patient, err := st.InsertToken(ctx, store.InsertTokenInput{ClinicID: clinicID, Name: "Patient", Phone: "9876543210", TokenNumber: number})
	if err != nil {
		t.Fatalf("insert token: %v", err)
	}
	return patient
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := execAdmin(ctx, dsn, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	if _, err := NewMigrator(pool).Up(ctx); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewStore(pool, Options{Logger: zerolog.Nop()})
	cleanup := func() {
		st.Close()
		pool.Close()
		_ = execAdmin(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	}
	return st, pool, cleanup
}

func execAdmin(ctx context.Context, dsn, statement string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, statement)
	return err
}
