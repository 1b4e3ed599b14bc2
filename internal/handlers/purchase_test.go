package handlers

import (
	"errors"
	"math"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	bursarapi "github.com/Laudkyle/fuel-me/pkg/api/bursar"
	"github.com/Laudkyle/fuel-me/pkg/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRecordFuelPurchaseInsufficientCredit(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	engine := NewLedgerEngine(db, testLogger(), NewCycleManager(db, testLogger()))

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bursar\.account_profiles`).
		WithArgs("user-1").
		WillReturnRows(profileRow(standardProfile()))
	mock.ExpectRollback()

	amount := 2000.0
	_, err := engine.RecordFuelPurchase(&bursarapi.FuelPurchaseRequest{
		UserID:      "user-1",
		FuelLiters:  200,
		FuelType:    "petrol",
		TotalAmount: &amount,
	})

	var insufficient *InsufficientCreditError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditError, got %v", err)
	}
	if insufficient.AvailableCredit != 1500 || insufficient.RequiredAmount != 2000 {
		t.Errorf("unexpected figures: available %.2f, required %.2f",
			insufficient.AvailableCredit, insufficient.RequiredAmount)
	}
	if insufficient.OverdraftAvailable != 0 {
		t.Errorf("expected zero overdraft headroom, got %.2f", insufficient.OverdraftAvailable)
	}
	expectMet(t, mock)
}

func TestRecordFuelPurchaseSuccess(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	engine := NewLedgerEngine(db, testLogger(), NewCycleManager(db, testLogger()))

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bursar\.account_profiles`).
		WithArgs("user-1").
		WillReturnRows(profileRow(standardProfile()))
	mock.ExpectQuery(`FROM bursar\.billing_cycles`).
		WithArgs("user-1").
		WillReturnRows(cycleRow(openCycle()))
	mock.ExpectExec(`UPDATE bursar\.account_profiles`).
		WithArgs(500.0, 1000.0, 0.0, 500.0, "profile-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bursar\.billing_cycles`).
		WithArgs(500.0, 0.0, "cycle-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO bursar\.credit_transactions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resp, err := engine.RecordFuelPurchase(&bursarapi.FuelPurchaseRequest{
		UserID:       "user-1",
		FuelLiters:   50,
		FuelType:     "petrol",
		CostPerLiter: 10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Profile.AvailableCredit != 1000 {
		t.Errorf("expected available credit 1000, got %.2f", resp.Profile.AvailableCredit)
	}
	if resp.Profile.CreditUtilized != 500 {
		t.Errorf("expected credit utilized 500, got %.2f", resp.Profile.CreditUtilized)
	}
	if resp.Cycle.TotalPurchases != 500 {
		t.Errorf("expected cycle total purchases 500, got %.2f", resp.Cycle.TotalPurchases)
	}

	// Snapshot invariant: after = before - min(amount, before)
	tx := resp.Transaction
	if *tx.AvailableCreditAfter != *tx.AvailableCreditBefore-500 {
		t.Errorf("snapshot mismatch: before %.2f, after %.2f",
			*tx.AvailableCreditBefore, *tx.AvailableCreditAfter)
	}
	if tx.IsOverdraft {
		t.Error("purchase within limit must not be overdraft")
	}
	expectMet(t, mock)
}

func TestRecordFuelPurchaseOverdraft(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	engine := NewLedgerEngine(db, testLogger(), NewCycleManager(db, testLogger()))

	profile := standardProfile()
	profile.AvailableCredit = 100
	profile.CreditUtilized = 1400
	profile.OutstandingBalance = 1400
	profile.OverdraftEnabled = true
	profile.OverdraftLimit = 500

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bursar\.account_profiles`).
		WithArgs("user-1").
		WillReturnRows(profileRow(profile))
	mock.ExpectQuery(`FROM bursar\.billing_cycles`).
		WithArgs("user-1").
		WillReturnRows(cycleRow(openCycle()))
	mock.ExpectExec(`UPDATE bursar\.account_profiles`).
		WithArgs(1500.0, 0.0, 200.0, 1700.0, "profile-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bursar\.billing_cycles`).
		WithArgs(300.0, 200.0, "cycle-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO bursar\.credit_transactions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	amount := 300.0
	resp, err := engine.RecordFuelPurchase(&bursarapi.FuelPurchaseRequest{
		UserID:      "user-1",
		FuelLiters:  30,
		FuelType:    "diesel",
		TotalAmount: &amount,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !resp.Transaction.IsOverdraft {
		t.Error("expected overdraft purchase")
	}
	// overdraft_used_after = overdraft_used_before + (amount - available)
	if !almostEqual(resp.Profile.OverdraftUsed, 200) {
		t.Errorf("expected overdraft used 200, got %.2f", resp.Profile.OverdraftUsed)
	}
	if resp.Profile.AvailableCredit != 0 {
		t.Errorf("overdraft must zero available credit, got %.2f", resp.Profile.AvailableCredit)
	}
	if resp.Profile.CreditUtilized != profile.CreditLimit {
		t.Errorf("overdraft must max out utilization, got %.2f", resp.Profile.CreditUtilized)
	}
	expectMet(t, mock)
}

func TestRecordFuelPurchaseOverdraftBeyondHeadroom(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	engine := NewLedgerEngine(db, testLogger(), NewCycleManager(db, testLogger()))

	profile := standardProfile()
	profile.AvailableCredit = 100
	profile.OverdraftEnabled = true
	profile.OverdraftLimit = 500
	profile.OverdraftUsed = 450

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bursar\.account_profiles`).
		WithArgs("user-1").
		WillReturnRows(profileRow(profile))
	mock.ExpectRollback()

	amount := 300.0
	_, err := engine.RecordFuelPurchase(&bursarapi.FuelPurchaseRequest{
		UserID:      "user-1",
		FuelLiters:  30,
		FuelType:    "diesel",
		TotalAmount: &amount,
	})

	var insufficient *InsufficientCreditError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditError, got %v", err)
	}
	if !almostEqual(insufficient.OverdraftAvailable, 50) {
		t.Errorf("expected overdraft headroom 50, got %.2f", insufficient.OverdraftAvailable)
	}
	expectMet(t, mock)
}

func TestRecordFuelPurchaseRejectsNonPositiveAmount(t *testing.T) {
	db, _ := newMockDB(t)
	defer db.Close()

	engine := NewLedgerEngine(db, testLogger(), NewCycleManager(db, testLogger()))

	_, err := engine.RecordFuelPurchase(&bursarapi.FuelPurchaseRequest{
		UserID:     "user-1",
		FuelLiters: 0,
		FuelType:   "petrol",
	})

	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestRecordFuelPurchaseCompletesLinkedRequest(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	engine := NewLedgerEngine(db, testLogger(), NewCycleManager(db, testLogger()))

	requestID := "request-1"

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bursar\.account_profiles`).
		WithArgs("user-1").
		WillReturnRows(profileRow(standardProfile()))
	mock.ExpectQuery(`FROM bursar\.billing_cycles`).
		WithArgs("user-1").
		WillReturnRows(cycleRow(openCycle()))
	mock.ExpectExec(`UPDATE bursar\.account_profiles`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bursar\.billing_cycles`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO bursar\.credit_transactions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bursar\.fuel_requests`).
		WithArgs(sqlmock.AnyArg(), requestID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resp, err := engine.RecordFuelPurchase(&bursarapi.FuelPurchaseRequest{
		UserID:       "user-1",
		FuelLiters:   20,
		FuelType:     "petrol",
		CostPerLiter: 10,
		RequestID:    &requestID,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Transaction.RequestID == nil || *resp.Transaction.RequestID != requestID {
		t.Error("transaction must link the fulfilled request")
	}
	if resp.Transaction.Status != models.TxStatusCompleted {
		t.Errorf("expected completed status, got %s", resp.Transaction.Status)
	}
	expectMet(t, mock)
}
