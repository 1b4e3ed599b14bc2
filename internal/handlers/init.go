package handlers

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Laudkyle/fuel-me/pkg/auth"
	"github.com/Laudkyle/fuel-me/pkg/kafka"
	"github.com/Laudkyle/fuel-me/pkg/logging"
)

var (
	db           *sql.DB
	logger       logging.Logger
	metrics      *BursarMetrics
	emailService *EmailService
	events       *kafka.Producer
	tokenStore   auth.TokenStore
	jwtSecret    []byte

	cycles      *CycleManager
	ledger      *LedgerEngine
	interestEng *InterestEngine
	schedules   *ScheduleManager
	admission   *AdmissionChecker
)

// BursarMetrics holds all Prometheus metrics for Bursar
type BursarMetrics struct {
	FuelPurchases   *prometheus.CounterVec
	Repayments      *prometheus.CounterVec
	InterestRuns    *prometheus.CounterVec
	Penalties       *prometheus.CounterVec
	CycleOperations *prometheus.CounterVec
	DBQueries       *prometheus.CounterVec
	DBDuration      *prometheus.HistogramVec
	DBConnections   *prometheus.GaugeVec
}

// Options carries the optional collaborators for Init. Events, TokenStore
// and the email sender degrade gracefully when absent.
type Options struct {
	Events        *kafka.Producer
	TokenStore    auth.TokenStore
	JWTSecret     []byte
	LimitFailOpen bool
}

// Init initializes the handlers with database, logger, metrics and collaborators
func Init(database *sql.DB, log logging.Logger, bursarMetrics *BursarMetrics, opts Options) {
	db = database
	logger = log
	metrics = bursarMetrics
	emailService = NewEmailService(log)
	events = opts.Events
	tokenStore = opts.TokenStore
	jwtSecret = opts.JWTSecret

	cycles = NewCycleManager(database, log)
	interestEng = NewInterestEngine(database, log)
	schedules = NewScheduleManager(database, log)
	ledger = NewLedgerEngine(database, log, cycles)
	admission = NewAdmissionChecker(database, log, opts.LimitFailOpen)
}

// querier is satisfied by both *sql.DB and *sql.Tx so engine helpers can
// run inside or outside an explicit transaction.
type querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}
