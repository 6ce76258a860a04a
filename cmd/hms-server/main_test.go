package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/account"
	"github.com/hms/hms/internal/domain/settlement"
	"github.com/hms/hms/internal/platform/apiclient"
	"github.com/hms/hms/internal/platform/db"
)

type stubGateway struct {
	details  *account.Details
	closeErr error
	closes   []account.CloseRequest
}

func (g *stubGateway) FetchAccount(_ context.Context, _ uuid.UUID) (*account.Details, error) {
	return g.details, nil
}

func (g *stubGateway) CloseAccount(_ context.Context, _ uuid.UUID, req account.CloseRequest) error {
	g.closes = append(g.closes, req)
	return g.closeErr
}

func owing1500() *account.Details {
	return &account.Details{
		Account: &account.Account{ID: uuid.New(), PatientName: "Maria Lopez", State: account.StateOpen},
		Items: []*account.LineItem{
			{Kind: account.KindService, Amount: 2000, Quantity: 1},
			{Kind: account.KindAdvance, Amount: 500, Quantity: 1},
		},
	}
}

func baseOptions(d *account.Details) settleOptions {
	return settleOptions{
		accountID:    d.Account.ID,
		method:       "cash",
		user:         "Ana Cajera",
		roles:        []string{"cashier"},
		elevatedRole: "admin",
		currency:     "MXN",
	}
}

// ---------------------------------------------------------------------------
// buildSettlement / amount flag
// ---------------------------------------------------------------------------

func TestBuildSettlement(t *testing.T) {
	s, err := buildSettlement(settleOptions{method: "CASH", amount: 2000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Payment.Method() != account.MethodCash || s.Tendered() != 2000 {
		t.Errorf("unexpected settlement: %+v", s)
	}

	s, err = buildSettlement(settleOptions{method: "mixed", cash: 600, card: 900})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Tendered() != 1500 {
		t.Errorf("expected 1500 tendered, got %v", s.Tendered())
	}

	if _, err := buildSettlement(settleOptions{method: "cheque"}); !errors.Is(err, account.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown method, got %v", err)
	}
}

func TestAmountValue_Set(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"2000", 2000, false},
		{"$1,250.50", 1250.5, false},
		{"0", 0, false},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		var v amountValue
		err := v.Set(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Set(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if float64(v) != tt.want {
			t.Errorf("Set(%q) = %v, want %v", tt.in, float64(v), tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// runSettle
// ---------------------------------------------------------------------------

func TestRunSettle_Success(t *testing.T) {
	d := owing1500()
	gw := &stubGateway{details: d}
	opts := baseOptions(d)
	opts.amount = 2000

	var out bytes.Buffer
	if err := runSettle(context.Background(), gw, &out, opts); err != nil {
		t.Fatalf("runSettle() error: %v\n%s", err, out.String())
	}
	if len(gw.closes) != 1 {
		t.Fatalf("expected 1 close, got %d", len(gw.closes))
	}
	text := out.String()
	for _, want := range []string{
		"Amount due:            1500.00 MXN",
		"Change:                500.00 MXN",
		"ACCOUNT SETTLEMENT",
		"Cashier:               Ana Cajera",
		"Settlement acknowledged.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestRunSettle_InsufficientNeverCloses(t *testing.T) {
	d := owing1500()
	gw := &stubGateway{details: d}
	opts := baseOptions(d)
	opts.amount = 1000

	var out bytes.Buffer
	err := runSettle(context.Background(), gw, &out, opts)
	if !errors.Is(err, account.ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}
	if len(gw.closes) != 0 {
		t.Errorf("expected no close call, got %d", len(gw.closes))
	}
	if !strings.Contains(out.String(), "[WARNING]") {
		t.Errorf("expected a warning notification:\n%s", out.String())
	}
}

func TestRunSettle_ReceivableByAdmin(t *testing.T) {
	d := owing1500()
	gw := &stubGateway{details: d}
	opts := baseOptions(d)
	opts.roles = []string{"admin"}
	opts.receivable = true
	opts.reason = "convenio empresa"

	var out bytes.Buffer
	if err := runSettle(context.Background(), gw, &out, opts); err != nil {
		t.Fatalf("runSettle() error: %v", err)
	}
	if !gw.closes[0].CuentaPorCobrar {
		t.Error("expected receivable close request")
	}
	if !strings.Contains(out.String(), "Accounts receivable:") {
		t.Errorf("expected receivable line:\n%s", out.String())
	}
}

func TestRunSettle_DryRun(t *testing.T) {
	d := owing1500()
	gw := &stubGateway{details: d}
	opts := baseOptions(d)
	opts.amount = 1500
	opts.dryRun = true

	var out bytes.Buffer
	if err := runSettle(context.Background(), gw, &out, opts); err != nil {
		t.Fatalf("runSettle() error: %v", err)
	}
	if len(gw.closes) != 0 {
		t.Error("dry run must not close")
	}
	if !strings.Contains(out.String(), "Settlement is valid.") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestRunSettle_ServerRejects(t *testing.T) {
	d := owing1500()
	gw := &stubGateway{details: d, closeErr: &apiclient.APIError{Status: 409, Message: "account is closed"}}
	opts := baseOptions(d)
	opts.amount = 1500

	var out bytes.Buffer
	err := runSettle(context.Background(), gw, &out, opts)
	if !errors.Is(err, settlement.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if !strings.Contains(out.String(), "[ERROR] account is closed") {
		t.Errorf("expected server message notification:\n%s", out.String())
	}
}

func TestRunSettle_RefundBalance(t *testing.T) {
	d := &account.Details{
		Account: &account.Account{ID: uuid.New(), PatientName: "Jose Perez", State: account.StateOpen},
		Items: []*account.LineItem{
			{Kind: account.KindService, Amount: 1000, Quantity: 1},
			{Kind: account.KindProduct, Amount: 500, Quantity: 1},
			{Kind: account.KindAdvance, Amount: 2000, Quantity: 1},
		},
	}
	gw := &stubGateway{details: d}
	opts := baseOptions(d)

	var out bytes.Buffer
	if err := runSettle(context.Background(), gw, &out, opts); err != nil {
		t.Fatalf("runSettle() error: %v", err)
	}
	if !strings.Contains(out.String(), "Refund due:            500.00 MXN") {
		t.Errorf("expected refund line:\n%s", out.String())
	}
}

// ---------------------------------------------------------------------------
// printStatuses
// ---------------------------------------------------------------------------

func TestPrintStatuses(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	printStatuses(&out, []db.MigrationStatus{
		{Version: 1, Name: "001_accounts.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_receivables.sql"},
	})
	text := out.String()
	if !strings.Contains(text, "applied") || !strings.Contains(text, "2024-03-01 10:00:00") {
		t.Errorf("expected applied row:\n%s", text)
	}
	if !strings.Contains(text, "pending") {
		t.Errorf("expected pending row:\n%s", text)
	}
}
