package store

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kudokuapp/kudoku-server/internal/domain"
	"github.com/shopspring/decimal"
)

func TestUnmarshalBreakdown(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{name: "empty bytes", raw: "", want: 0},
		{name: "json null", raw: "null", want: 0},
		{name: "empty array", raw: "[]", want: 0},
		{name: "two items", raw: `[{"name":"Food","amount":"100.25"},{"name":"Drinks","amount":"50"}]`, want: 2},
		{name: "numeric amount", raw: `[{"name":"Food","amount":12.5}]`, want: 1},
		{name: "malformed", raw: `{"name":"x"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := unmarshalBreakdown([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("expected %d items, got %d", tt.want, len(got))
			}
		})
	}
}

func TestMarshalBreakdownKeepsDecimalPrecision(t *testing.T) {
	items := []domain.NameAmount{{Name: "Food", Amount: decimal.RequireFromString("0.10")}, {Name: "Tip", Amount: decimal.RequireFromString("0.20")}}

	raw, err := marshalBreakdown(items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, err := unmarshalBreakdown([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !domain.SumAmounts(decoded).Equal(decimal.RequireFromString("0.3")) {
		t.Fatalf("expected exact sum 0.3, got %s", domain.SumAmounts(decoded))
	}

	empty, err := marshalBreakdown(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if empty != "[]" {
		t.Fatalf("expected nil breakdown to encode as [], got %s", empty)
	}
}

func TestEncodeTransactionJSONB(t *testing.T) {
	tx := &domain.Transaction{
		Amount:   decimal.NewFromInt(10),
		Category: []domain.NameAmount{{Name: "Food", Amount: decimal.NewFromInt(10)}},
	}
	encoded, err := encodeTransactionJSONB(tx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if encoded.location != nil {
		t.Fatalf("expected nil location, got %s", *encoded.location)
	}
	if encoded.tags != "[]" {
		t.Fatalf("expected empty tags array, got %s", encoded.tags)
	}

	tx.Location = &domain.Location{Latitude: "-6.2", Longitude: "106.8"}
	encoded, err = encodeTransactionJSONB(tx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if encoded.location == nil || !strings.Contains(*encoded.location, `"latitude":"-6.2"`) {
		t.Fatalf("unexpected location encoding: %v", encoded.location)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Fatal("expected wrapped 23505 to be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("foreign key violation must not be treated as unique violation")
	}
	if isUniqueViolation(errors.New("boom")) {
		t.Fatal("plain errors must not be treated as unique violation")
	}
}

func TestIsUniqueViolationOn(t *testing.T) {
	nameClash := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: manualAccountNameIndex})
	if !isUniqueViolationOn(nameClash, manualAccountNameIndex) {
		t.Fatal("expected name index violation to match")
	}
	externalClash := &pgconn.PgError{Code: "23505", ConstraintName: "accounts_external_key"}
	if isUniqueViolationOn(externalClash, manualAccountNameIndex) {
		t.Fatal("expected a different index not to match")
	}
	if isUniqueViolationOn(nil, manualAccountNameIndex) {
		t.Fatal("nil error must not match")
	}
}

func TestManualAccountNameMigration(t *testing.T) {
	raw, err := migrationsFS.ReadFile("migrations/00002_account_names.sql")
	if err != nil {
		t.Fatalf("expected embedded account name migration: %v", err)
	}
	body := string(raw)
	for _, want := range []string{"-- +goose Up", "-- +goose Down", manualAccountNameIndex, "lower(name)"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected migration to contain %q", want)
		}
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	raw, err := migrationsFS.ReadFile("migrations/00001_init.sql")
	if err != nil {
		t.Fatalf("expected embedded init migration: %v", err)
	}
	body := string(raw)
	for _, want := range []string{"-- +goose Up", "-- +goose Down", "CREATE TABLE IF NOT EXISTS transactions", "transactions_external_reference_key"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected migration to contain %q", want)
		}
	}
}
