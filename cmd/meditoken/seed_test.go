package main

import (
	"context"
	"testing"

	"meditoken/internal/auth"
	"meditoken/internal/clinic"
	"meditoken/internal/store/memory"

	"github.com/rs/zerolog"
)

func TestSeedDemoServesAClinic(t *testing.T) {
	st := memory.NewStore()
	ctx := context.Background()
	if err := seedDemo(ctx, st, "change-me-please"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := clinic.NewService(st, st, clinic.Options{Logger: zerolog.Nop()})
	defer svc.Shutdown()
	snapshot, err := svc.Snapshot(ctx, demoClinicID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snapshot.Doctors) != 2 || len(snapshot.Assistants) != 1 || len(snapshot.Cabins) != 4 {
		t.Fatalf("unexpected demo snapshot: %d doctors, %d assistants, %d cabins", len(snapshot.Doctors), len(snapshot.Assistants), len(snapshot.Cabins))
	}

	if _, err := auth.NewService(st, "0123456789abcdef", 0).Login(ctx, "admin", "change-me-please"); err != nil {
		t.Fatalf("admin login: %v", err)
	}
}

func TestSeedDemoWithoutPasswordCreatesNoLogin(t *testing.T) {
	st := memory.NewStore()
	if err := seedDemo(context.Background(), st, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := st.GetStaffAccount(context.Background(), "admin"); err == nil {
		t.Fatalf("expected no admin account")
	}
}
