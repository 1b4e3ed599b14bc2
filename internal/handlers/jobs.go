package handlers

import (
	"database/sql"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/Laudkyle/fuel-me/pkg/config"
	"github.com/Laudkyle/fuel-me/pkg/logging"
	"github.com/Laudkyle/fuel-me/pkg/models"
)

// JobManager drives the billing sweeps an external scheduler would
// otherwise trigger through the HTTP surface: closing cycles past their
// end date, penalizing cycles past their due date and marking overdue
// schedules. Disabled by default (BILLING_JOBS_ENABLED); the endpoints
// stay the source of truth either way.
type JobManager struct {
	db     *sql.DB
	logger logging.Logger
	cron   *cron.Cron
}

// NewJobManager creates a new job manager
func NewJobManager(database *sql.DB, log logging.Logger) *JobManager {
	return &JobManager{
		db:     database,
		logger: log,
		cron:   cron.New(),
	}
}

// Start schedules the daily sweeps. No-op unless BILLING_JOBS_ENABLED.
func (jm *JobManager) Start() error {
	if !config.GetEnvBool("BILLING_JOBS_ENABLED", false) {
		jm.logger.Info("Billing jobs disabled; cycle management is endpoint-driven")
		return nil
	}

	schedule := config.GetEnv("BILLING_JOBS_SCHEDULE", "0 3 * * *")

	if _, err := jm.cron.AddFunc(schedule, jm.runSweeps); err != nil {
		return fmt.Errorf("failed to schedule billing sweeps: %w", err)
	}

	jm.cron.Start()
	jm.logger.WithFields(logging.Fields{
		"schedule": schedule,
	}).Info("Billing jobs scheduled")
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (jm *JobManager) Stop() {
	ctx := jm.cron.Stop()
	<-ctx.Done()
}

func (jm *JobManager) runSweeps() {
	jm.closeExpiredCycles()
	jm.penalizeOverdueCycles()
	jm.markOverdueSchedules()
}

// closeExpiredCycles runs interest then close on every cycle still
// accumulating past its end date. Cycles a late partial repayment
// marked overdue have no closed_date yet and are swept too.
func (jm *JobManager) closeExpiredCycles() {
	ids, err := jm.collectIDs(`
		SELECT id FROM bursar.billing_cycles
		WHERE status IN ('open', 'overdue') AND closed_date IS NULL AND end_date < NOW()
	`)
	if err != nil {
		jm.logger.WithError(err).Error("Failed to list expired cycles")
		return
	}

	for _, id := range ids {
		if _, err := interestEng.Calculate(id); err != nil {
			jm.logger.WithError(err).WithFields(logging.Fields{"cycle_id": id}).Error("Interest sweep failed")
			continue
		}
		if _, err := cycles.Close(id); err != nil {
			jm.logger.WithError(err).WithFields(logging.Fields{"cycle_id": id}).Error("Close sweep failed")
			continue
		}
		if _, err := schedules.CreateFromCycle(id); err != nil {
			jm.logger.WithError(err).WithFields(logging.Fields{"cycle_id": id}).Error("Schedule sweep failed")
		}
	}

	if len(ids) > 0 {
		jm.logger.WithFields(logging.Fields{"count": len(ids)}).Info("Expired cycles closed")
	}
}

// penalizeOverdueCycles applies the late penalty to unpenalized cycles
// past their due date.
func (jm *JobManager) penalizeOverdueCycles() {
	ids, err := jm.collectIDs(`
		SELECT id FROM bursar.billing_cycles
		WHERE status IN ('closed', 'overdue') AND due_date < NOW() AND total_penalties = 0
	`)
	if err != nil {
		jm.logger.WithError(err).Error("Failed to list overdue cycles")
		return
	}

	for _, id := range ids {
		resp, err := cycles.ApplyLatePenalty(id)
		if err != nil {
			jm.logger.WithError(err).WithFields(logging.Fields{"cycle_id": id}).Error("Penalty sweep failed")
			continue
		}
		if metrics != nil {
			metrics.Penalties.WithLabelValues("late_payment").Inc()
		}
		emailService.SendPenaltyNotice(resp.Cycle.UserID, resp.Cycle.CyclePeriod, resp.Penalty)
	}
}

// markOverdueSchedules flags pending schedules past due below the minimum.
func (jm *JobManager) markOverdueSchedules() {
	result, err := jm.db.Exec(`
		UPDATE bursar.repayment_schedules
		SET status = 'overdue', updated_at = NOW()
		WHERE due_date < NOW() AND status = $1 AND amount_paid < minimum_amount_due
	`, models.SchedulePending)
	if err != nil {
		jm.logger.WithError(err).Error("Failed to mark overdue schedules")
		return
	}

	if n, err := result.RowsAffected(); err == nil && n > 0 {
		jm.logger.WithFields(logging.Fields{"count": n}).Info("Schedules marked overdue")
	}
}

func (jm *JobManager) collectIDs(query string) ([]string, error) {
	rows, err := jm.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
