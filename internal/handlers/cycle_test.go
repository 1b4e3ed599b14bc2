package handlers

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Laudkyle/fuel-me/pkg/models"
)

func TestCycleBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		category  string
		frequency string
		now       time.Time
		wantType  string
		wantEnd   time.Time
		wantDue   time.Time
	}{
		{
			name:      "monthly before the 20th",
			category:  models.CategoryCivilWorker,
			frequency: models.FrequencyMonthly,
			now:       time.Date(2026, time.August, 10, 12, 0, 0, 0, time.UTC),
			wantType:  models.FrequencyMonthly,
			wantEnd:   time.Date(2026, time.August, 20, 0, 0, 0, 0, time.UTC),
			wantDue:   time.Date(2026, time.August, 27, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "monthly after the 20th rolls to next month",
			category:  models.CategoryCivilWorker,
			frequency: models.FrequencyMonthly,
			now:       time.Date(2026, time.August, 25, 12, 0, 0, 0, time.UTC),
			wantType:  models.FrequencyMonthly,
			wantEnd:   time.Date(2026, time.September, 20, 0, 0, 0, 0, time.UTC),
			wantDue:   time.Date(2026, time.September, 27, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "monthly december rolls into january",
			category:  models.CategoryCorporateWorker,
			frequency: models.FrequencyMonthly,
			now:       time.Date(2026, time.December, 28, 0, 0, 0, 0, time.UTC),
			wantType:  models.FrequencyMonthly,
			wantEnd:   time.Date(2027, time.January, 20, 0, 0, 0, 0, time.UTC),
			wantDue:   time.Date(2027, time.January, 27, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "commercial driver weekly",
			category:  models.CategoryCommercialDriver,
			frequency: models.FrequencyWeekly,
			now:       time.Date(2026, time.August, 10, 0, 0, 0, 0, time.UTC),
			wantType:  models.FrequencyWeekly,
			wantEnd:   time.Date(2026, time.August, 17, 0, 0, 0, 0, time.UTC),
			wantDue:   time.Date(2026, time.August, 17, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "commercial driver defaults to biweekly",
			category:  models.CategoryCommercialDriver,
			frequency: models.FrequencyBiweekly,
			now:       time.Date(2026, time.August, 10, 0, 0, 0, 0, time.UTC),
			wantType:  models.FrequencyBiweekly,
			wantEnd:   time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC),
			wantDue:   time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cycleType, start, end, due := cycleBoundaries(tt.category, tt.frequency, tt.now)
			if cycleType != tt.wantType {
				t.Errorf("cycle type = %s, want %s", cycleType, tt.wantType)
			}
			if !start.Equal(tt.now) {
				t.Errorf("start = %v, want %v", start, tt.now)
			}
			if !end.Equal(tt.wantEnd) {
				t.Errorf("end = %v, want %v", end, tt.wantEnd)
			}
			if !due.Equal(tt.wantDue) {
				t.Errorf("due = %v, want %v", due, tt.wantDue)
			}
		})
	}
}

func TestSuccessorBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		prev    *models.BillingCycle
		wantEnd time.Time
		wantDue time.Time
	}{
		{
			name: "monthly advances a full month",
			prev: &models.BillingCycle{
				CycleType: models.FrequencyMonthly,
				EndDate:   time.Date(2026, time.August, 20, 0, 0, 0, 0, time.UTC),
			},
			wantEnd: time.Date(2026, time.September, 20, 0, 0, 0, 0, time.UTC),
			wantDue: time.Date(2026, time.September, 27, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "weekly advances seven days",
			prev: &models.BillingCycle{
				CycleType: models.FrequencyWeekly,
				EndDate:   time.Date(2026, time.August, 17, 0, 0, 0, 0, time.UTC),
			},
			wantEnd: time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC),
			wantDue: time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "biweekly advances fourteen days",
			prev: &models.BillingCycle{
				CycleType: models.FrequencyBiweekly,
				EndDate:   time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC),
			},
			wantEnd: time.Date(2026, time.September, 7, 0, 0, 0, 0, time.UTC),
			wantDue: time.Date(2026, time.September, 7, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, due := successorBoundaries(tt.prev)
			if !start.Equal(tt.prev.EndDate) {
				t.Errorf("start = %v, want %v", start, tt.prev.EndDate)
			}
			if !end.Equal(tt.wantEnd) {
				t.Errorf("end = %v, want %v", end, tt.wantEnd)
			}
			if !due.Equal(tt.wantDue) {
				t.Errorf("due = %v, want %v", due, tt.wantDue)
			}
		})
	}
}

func TestCyclePeriod(t *testing.T) {
	end := time.Date(2026, time.August, 20, 0, 0, 0, 0, time.UTC)
	if got := cyclePeriod(end); got != "August-2026" {
		t.Errorf("cycle period = %s, want August-2026", got)
	}
}

func TestCloseMonthlyCycleOpensSuccessor(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	manager := NewCycleManager(db, testLogger())

	cycle := openCycle()
	cycle.TotalPurchases = 500
	cycle.TotalRepayments = 225
	cycle.TotalInterestCharged = 25

	closing := 300.0
	next := openCycle()
	next.ID = "cycle-2"
	next.CyclePeriod = "September-2026"
	next.StartDate = cycle.EndDate
	next.EndDate = time.Date(2026, time.September, 20, 0, 0, 0, 0, time.UTC)
	next.DueDate = next.EndDate.AddDate(0, 0, 7)
	next.OpeningBalance = closing

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bursar\.billing_cycles`).
		WithArgs("cycle-1").
		WillReturnRows(cycleRow(cycle))
	mock.ExpectExec(`UPDATE bursar\.billing_cycles`).
		WithArgs(closing, sqlmock.AnyArg(), "cycle-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO bursar\.billing_cycles`).
		WillReturnRows(cycleRow(next))
	mock.ExpectCommit()

	resp, err := manager.Close("cycle-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Cycle.Status != models.CycleClosed {
		t.Errorf("expected closed status, got %s", resp.Cycle.Status)
	}
	if resp.Cycle.ClosingBalance == nil || *resp.Cycle.ClosingBalance != closing {
		t.Error("closing balance must be opening + purchases - repayments + interest + penalties")
	}
	if resp.NextCycle == nil {
		t.Fatal("monthly close must open a successor")
	}
	if resp.NextCycle.OpeningBalance != closing {
		t.Errorf("successor must carry the closing balance forward, got %.2f", resp.NextCycle.OpeningBalance)
	}
	expectMet(t, mock)
}

func TestCloseWeeklyCycleHasNoSuccessor(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	manager := NewCycleManager(db, testLogger())

	cycle := openCycle()
	cycle.CycleType = models.FrequencyWeekly
	cycle.TotalPurchases = 200

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bursar\.billing_cycles`).
		WithArgs("cycle-1").
		WillReturnRows(cycleRow(cycle))
	mock.ExpectExec(`UPDATE bursar\.billing_cycles`).
		WithArgs(200.0, sqlmock.AnyArg(), "cycle-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resp, err := manager.Close("cycle-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.NextCycle != nil {
		t.Error("weekly close must not open a successor")
	}
	expectMet(t, mock)
}

func TestCloseOverdueCycleOpensSuccessor(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	manager := NewCycleManager(db, testLogger())

	// A late partial repayment marked the cycle overdue while it was
	// still accumulating; it must still close and hand its balance on.
	cycle := openCycle()
	cycle.Status = models.CycleOverdue
	cycle.TotalPurchases = 500
	cycle.TotalRepayments = 100
	cycle.TotalInterestCharged = 25

	closing := 425.0
	next := openCycle()
	next.ID = "cycle-2"
	next.CyclePeriod = "September-2026"
	next.StartDate = cycle.EndDate
	next.EndDate = time.Date(2026, time.September, 20, 0, 0, 0, 0, time.UTC)
	next.DueDate = next.EndDate.AddDate(0, 0, 7)
	next.OpeningBalance = closing

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bursar\.billing_cycles`).
		WithArgs("cycle-1").
		WillReturnRows(cycleRow(cycle))
	mock.ExpectExec(`UPDATE bursar\.billing_cycles`).
		WithArgs(closing, sqlmock.AnyArg(), "cycle-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO bursar\.billing_cycles`).
		WillReturnRows(cycleRow(next))
	mock.ExpectCommit()

	resp, err := manager.Close("cycle-1")
	if err != nil {
		t.Fatalf("closing an overdue cycle must succeed, got %v", err)
	}

	if resp.Cycle.Status != models.CycleClosed {
		t.Errorf("expected closed status, got %s", resp.Cycle.Status)
	}
	if resp.NextCycle == nil {
		t.Fatal("monthly close must open a successor")
	}
	if resp.NextCycle.OpeningBalance != closing {
		t.Errorf("successor must carry the closing balance forward, got %.2f", resp.NextCycle.OpeningBalance)
	}
	expectMet(t, mock)
}

func TestCloseCyclePenalizedAfterClosing(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	manager := NewCycleManager(db, testLogger())

	// The late penalty flips a closed cycle back to overdue; the stamped
	// closed date keeps it from being closed a second time.
	closedDate := time.Now().AddDate(0, 0, -5)
	cycle := openCycle()
	cycle.Status = models.CycleOverdue
	cycle.ClosedDate = &closedDate

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bursar\.billing_cycles`).
		WithArgs("cycle-1").
		WillReturnRows(cycleRow(cycle))
	mock.ExpectRollback()

	_, err := manager.Close("cycle-1")

	var terminal *TerminalStateError
	if !errors.As(err, &terminal) || terminal.State != models.CycleClosed {
		t.Fatalf("expected closed TerminalStateError, got %v", err)
	}
	expectMet(t, mock)
}

func TestCloseAlreadyClosedCycle(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	manager := NewCycleManager(db, testLogger())

	cycle := openCycle()
	cycle.Status = models.CycleClosed

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bursar\.billing_cycles`).
		WithArgs("cycle-1").
		WillReturnRows(cycleRow(cycle))
	mock.ExpectRollback()

	_, err := manager.Close("cycle-1")

	var terminal *TerminalStateError
	if !errors.As(err, &terminal) {
		t.Fatalf("expected TerminalStateError, got %v", err)
	}
	expectMet(t, mock)
}

func TestApplyLatePenalty(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	manager := NewCycleManager(db, testLogger())

	closing := 500.0
	cycle := openCycle()
	cycle.Status = models.CycleClosed
	cycle.ClosingBalance = &closing
	cycle.DueDate = time.Now().AddDate(0, 0, -3)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bursar\.billing_cycles`).
		WithArgs("cycle-1").
		WillReturnRows(cycleRow(cycle))
	mock.ExpectExec(`INSERT INTO bursar\.credit_transactions`).
		WithArgs(sqlmock.AnyArg(), "user-1", "cycle-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bursar\.billing_cycles`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bursar\.account_profiles`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bursar\.repayment_schedules`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resp, err := manager.ApplyLatePenalty("cycle-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 2% of the 500 closing balance.
	if !almostEqual(resp.Penalty, 10) {
		t.Errorf("expected penalty 10, got %.4f", resp.Penalty)
	}
	if resp.Cycle.Status != models.CycleOverdue {
		t.Errorf("penalized cycle must be overdue, got %s", resp.Cycle.Status)
	}
	if resp.Transaction.Type != models.TxPenalty {
		t.Errorf("expected penalty transaction, got %s", resp.Transaction.Type)
	}
	expectMet(t, mock)
}

func TestApplyLatePenaltyToOverdueRepaymentCycle(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	manager := NewCycleManager(db, testLogger())

	// Overdue from a late partial repayment, no penalty charged yet.
	cycle := openCycle()
	cycle.Status = models.CycleOverdue
	cycle.TotalPurchases = 500
	cycle.TotalRepayments = 100
	cycle.TotalInterestCharged = 25
	cycle.DueDate = time.Now().AddDate(0, 0, -3)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bursar\.billing_cycles`).
		WithArgs("cycle-1").
		WillReturnRows(cycleRow(cycle))
	mock.ExpectExec(`INSERT INTO bursar\.credit_transactions`).
		WithArgs(sqlmock.AnyArg(), "user-1", "cycle-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bursar\.billing_cycles`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bursar\.account_profiles`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bursar\.repayment_schedules`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resp, err := manager.ApplyLatePenalty("cycle-1")
	if err != nil {
		t.Fatalf("overdue cycle without a penalty must be penalizable, got %v", err)
	}

	// 2% of the 425 outstanding (500 purchases - 100 repaid + 25 interest).
	if !almostEqual(resp.Penalty, 8.5) {
		t.Errorf("expected penalty 8.5, got %.4f", resp.Penalty)
	}
	expectMet(t, mock)
}

func TestApplyLatePenaltyRejections(t *testing.T) {
	future := time.Now().AddDate(0, 0, 3)
	past := time.Now().AddDate(0, 0, -3)

	tests := []struct {
		name      string
		status    string
		penalties float64
		dueDate   time.Time
		check     func(t *testing.T, err error)
	}{
		{
			name:    "settled cycle",
			status:  models.CycleSettled,
			dueDate: past,
			check: func(t *testing.T, err error) {
				var terminal *TerminalStateError
				if !errors.As(err, &terminal) || terminal.State != models.CycleSettled {
					t.Fatalf("expected settled TerminalStateError, got %v", err)
				}
			},
		},
		{
			name:      "penalty already charged",
			status:    models.CycleOverdue,
			penalties: 10,
			dueDate:   past,
			check: func(t *testing.T, err error) {
				var terminal *TerminalStateError
				if !errors.As(err, &terminal) || terminal.State != "applied" {
					t.Fatalf("expected applied TerminalStateError, got %v", err)
				}
			},
		},
		{
			name:    "not yet overdue",
			status:  models.CycleClosed,
			dueDate: future,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrCycleNotOverdue) {
					t.Fatalf("expected ErrCycleNotOverdue, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			defer db.Close()

			manager := NewCycleManager(db, testLogger())

			cycle := openCycle()
			cycle.Status = tt.status
			cycle.TotalPenalties = tt.penalties
			cycle.DueDate = tt.dueDate

			mock.ExpectBegin()
			mock.ExpectQuery(`FROM bursar\.billing_cycles`).
				WithArgs("cycle-1").
				WillReturnRows(cycleRow(cycle))
			mock.ExpectRollback()

			_, err := manager.ApplyLatePenalty("cycle-1")
			tt.check(t, err)
			expectMet(t, mock)
		})
	}
}

func TestGetOrCreateReturnsExistingCycle(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	manager := NewCycleManager(db, testLogger())

	mock.ExpectQuery(`FROM bursar\.account_profiles`).
		WithArgs("user-1").
		WillReturnRows(profileRow(standardProfile()))
	mock.ExpectQuery(`FROM bursar\.billing_cycles`).
		WithArgs("user-1").
		WillReturnRows(cycleRow(openCycle()))

	cycle, err := manager.GetOrCreate("user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cycle.ID != "cycle-1" {
		t.Errorf("expected the existing open cycle, got %s", cycle.ID)
	}
	expectMet(t, mock)
}

func TestGetOrCreateOpensNewCycle(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	manager := NewCycleManager(db, testLogger())

	created := openCycle()

	mock.ExpectQuery(`FROM bursar\.account_profiles`).
		WithArgs("user-1").
		WillReturnRows(profileRow(standardProfile()))
	mock.ExpectQuery(`FROM bursar\.billing_cycles`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(cycleCols))
	mock.ExpectQuery(`INSERT INTO bursar\.billing_cycles`).
		WillReturnRows(cycleRow(created))

	cycle, err := manager.GetOrCreate("user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cycle.Status != models.CycleOpen {
		t.Errorf("expected open cycle, got %s", cycle.Status)
	}
	expectMet(t, mock)
}

func TestGetOrCreateLosesInsertRace(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	manager := NewCycleManager(db, testLogger())

	winner := openCycle()
	winner.ID = "cycle-other"

	mock.ExpectQuery(`FROM bursar\.account_profiles`).
		WithArgs("user-1").
		WillReturnRows(profileRow(standardProfile()))
	mock.ExpectQuery(`FROM bursar\.billing_cycles`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(cycleCols))
	mock.ExpectQuery(`INSERT INTO bursar\.billing_cycles`).
		WillReturnRows(sqlmock.NewRows(cycleCols))
	mock.ExpectQuery(`FROM bursar\.billing_cycles`).
		WithArgs("user-1").
		WillReturnRows(cycleRow(winner))

	cycle, err := manager.GetOrCreate("user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cycle.ID != "cycle-other" {
		t.Errorf("losing the insert race must return the winner's cycle, got %s", cycle.ID)
	}
	expectMet(t, mock)
}
