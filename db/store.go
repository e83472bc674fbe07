package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"churnlens/ml"
)

// Store wraps the customers database. All aggregate queries treat NULL
// segment values as their own "Unknown" bucket so no row is silently
// dropped from a breakdown.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS customers (
	customer_id       TEXT PRIMARY KEY,
	gender            TEXT,
	senior_citizen    INTEGER NOT NULL DEFAULT 0,
	partner           TEXT,
	dependents        TEXT,
	tenure            REAL,
	phone_service     TEXT,
	multiple_lines    TEXT,
	internet_service  TEXT,
	online_security   TEXT,
	online_backup     TEXT,
	device_protection TEXT,
	tech_support      TEXT,
	streaming_tv      TEXT,
	streaming_movies  TEXT,
	contract          TEXT,
	paperless_billing TEXT,
	payment_method    TEXT,
	monthly_charges   REAL,
	total_charges     REAL,
	churn             INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_customers_churn ON customers(churn);
CREATE INDEX IF NOT EXISTS idx_customers_contract ON customers(contract);
`

// NewStore opens the database, enabling WAL so reads do not block the
// importer, and creates the schema when missing.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	logger.Info("database opened", zap.String("path", path))
	return &Store{db: conn, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// segmentColumns are the categorical columns ChurnBySegment may group
// by. Column names are interpolated into SQL, so the whitelist is the
// only thing standing between a request parameter and the query text.
var segmentColumns = map[string]bool{
	"contract":       true,
	"payment_method": true,
}

// flagColumns are the service-flag columns ChurnByFlag accepts.
var flagColumns = map[string]bool{
	"online_security":   true,
	"tech_support":      true,
	"online_backup":     true,
	"device_protection": true,
	"streaming_tv":      true,
	"streaming_movies":  true,
	"internet_service":  true,
	"phone_service":     true,
	"multiple_lines":    true,
	"paperless_billing": true,
}

// FlagColumns returns the whitelisted flag columns.
func FlagColumns() []string {
	out := make([]string, 0, len(flagColumns))
	for c := range flagColumns {
		out = append(out, c)
	}
	return out
}

// ValidFlagColumn reports whether ChurnByFlag accepts the column.
func ValidFlagColumn(name string) bool { return flagColumns[name] }

// KPITotals is the raw material for the overview metrics.
type KPITotals struct {
	TotalCustomers int
	ChurnedUsers   int
	AvgTenure      float64
	AvgMonthly     float64
}

// KPITotals aggregates the headline numbers in one pass.
func (s *Store) KPITotals(ctx context.Context) (KPITotals, error) {
	const q = `
		SELECT COUNT(*),
		       COALESCE(SUM(churn), 0),
		       COALESCE(AVG(tenure), 0),
		       COALESCE(AVG(monthly_charges), 0)
		FROM customers`
	var t KPITotals
	err := s.db.QueryRowContext(ctx, q).Scan(&t.TotalCustomers, &t.ChurnedUsers, &t.AvgTenure, &t.AvgMonthly)
	if err != nil {
		return KPITotals{}, fmt.Errorf("kpi totals: %w", err)
	}
	return t, nil
}

// SegmentCount is one group of a categorical breakdown.
type SegmentCount struct {
	Key     string
	Total   int
	Churned int
}

// ChurnBySegment groups customers by one whitelisted categorical column.
// NULL and empty values collapse into the Unknown bucket.
func (s *Store) ChurnBySegment(ctx context.Context, column string) ([]SegmentCount, error) {
	if !segmentColumns[column] {
		return nil, fmt.Errorf("unsupported segment column %q", column)
	}
	q := fmt.Sprintf(`
		SELECT CASE WHEN %s IS NULL OR %s = '' THEN 'Unknown' ELSE %s END AS key,
		       COUNT(*),
		       COALESCE(SUM(churn), 0)
		FROM customers
		GROUP BY key`, column, column, column)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("churn by %s: %w", column, err)
	}
	defer rows.Close()

	var out []SegmentCount
	for rows.Next() {
		var sc SegmentCount
		if err := rows.Scan(&sc.Key, &sc.Total, &sc.Churned); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// ChurnByFlag groups customers by a Yes/No service flag. NULL collapses
// into No; values like "No internet service" keep their own bucket out
// of the Yes/No pair and are folded into No by the caller's contract.
func (s *Store) ChurnByFlag(ctx context.Context, column string) ([]SegmentCount, error) {
	if !flagColumns[column] {
		return nil, fmt.Errorf("unsupported flag column %q", column)
	}
	q := fmt.Sprintf(`
		SELECT CASE WHEN %s = 'Yes' THEN 'Yes' ELSE 'No' END AS flag,
		       COUNT(*),
		       COALESCE(SUM(churn), 0)
		FROM customers
		GROUP BY flag`, column)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("churn by flag %s: %w", column, err)
	}
	defer rows.Close()

	var out []SegmentCount
	for rows.Next() {
		var sc SegmentCount
		if err := rows.Scan(&sc.Key, &sc.Total, &sc.Churned); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// ChurnedTenures returns the tenure of every churned customer with a
// recorded tenure.
func (s *Store) ChurnedTenures(ctx context.Context) ([]float64, error) {
	return s.churnedValues(ctx, "tenure")
}

// ChurnedMonthlyCharges returns the monthly charge of every churned
// customer with a recorded charge.
func (s *Store) ChurnedMonthlyCharges(ctx context.Context) ([]float64, error) {
	return s.churnedValues(ctx, "monthly_charges")
}

func (s *Store) churnedValues(ctx context.Context, column string) ([]float64, error) {
	q := fmt.Sprintf(`SELECT %s FROM customers WHERE churn = 1 AND %s IS NOT NULL`, column, column)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("churned %s: %w", column, err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// FetchTrainingRows retrieves the rows the baseline model trains on.
// Rows missing either numeric feature are excluded up front; the
// remaining nullable columns are imputed downstream.
func (s *Store) FetchTrainingRows(ctx context.Context) ([]ml.CustomerRow, error) {
	const q = `
		SELECT churn, tenure, monthly_charges,
		       COALESCE(contract, ''), COALESCE(payment_method, ''),
		       COALESCE(online_security, ''), COALESCE(tech_support, '')
		FROM customers
		WHERE tenure IS NOT NULL AND monthly_charges IS NOT NULL`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetch training rows: %w", err)
	}
	defer rows.Close()

	var out []ml.CustomerRow
	for rows.Next() {
		var churn int
		var tenure, monthly float64
		var r ml.CustomerRow
		if err := rows.Scan(&churn, &tenure, &monthly,
			&r.Contract, &r.PaymentMethod, &r.OnlineSecurity, &r.TechSupport); err != nil {
			return nil, err
		}
		r.Churned = churn == 1
		r.Tenure = &tenure
		r.MonthlyCharges = &monthly
		out = append(out, r)
	}
	return out, rows.Err()
}

// Customer is one row as written by the CSV importer. Pointer fields
// persist as NULL when nil.
type Customer struct {
	CustomerID       string
	Gender           string
	SeniorCitizen    int
	Partner          string
	Dependents       string
	Tenure           *float64
	PhoneService     string
	MultipleLines    string
	InternetService  string
	OnlineSecurity   string
	OnlineBackup     string
	DeviceProtection string
	TechSupport      string
	StreamingTV      string
	StreamingMovies  string
	Contract         string
	PaperlessBilling string
	PaymentMethod    string
	MonthlyCharges   *float64
	TotalCharges     *float64
	Churned          bool
}

// InsertCustomers writes a batch inside one transaction, replacing rows
// that share a customer id so re-imports are idempotent.
func (s *Store) InsertCustomers(ctx context.Context, customers []Customer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO customers (
			customer_id, gender, senior_citizen, partner, dependents, tenure,
			phone_service, multiple_lines, internet_service, online_security,
			online_backup, device_protection, tech_support, streaming_tv,
			streaming_movies, contract, paperless_billing, payment_method,
			monthly_charges, total_charges, churn
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range customers {
		churn := 0
		if c.Churned {
			churn = 1
		}
		_, err := stmt.ExecContext(ctx,
			c.CustomerID, nullStr(c.Gender), c.SeniorCitizen, nullStr(c.Partner),
			nullStr(c.Dependents), nullFloat(c.Tenure), nullStr(c.PhoneService),
			nullStr(c.MultipleLines), nullStr(c.InternetService), nullStr(c.OnlineSecurity),
			nullStr(c.OnlineBackup), nullStr(c.DeviceProtection), nullStr(c.TechSupport),
			nullStr(c.StreamingTV), nullStr(c.StreamingMovies), nullStr(c.Contract),
			nullStr(c.PaperlessBilling), nullStr(c.PaymentMethod),
			nullFloat(c.MonthlyCharges), nullFloat(c.TotalCharges), churn)
		if err != nil {
			return fmt.Errorf("insert customer %s: %w", c.CustomerID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import tx: %w", err)
	}
	s.logger.Info("imported customers", zap.Int("count", len(customers)))
	return nil
}

func nullStr(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
