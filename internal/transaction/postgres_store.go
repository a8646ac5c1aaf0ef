package transaction

import (
	"context"
	"database/sql"
	"strconv"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transaction store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Compile-time interface check
var _ Store = (*PostgresStore)(nil)

// Migrate creates the transactions table
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id                VARCHAR(64) PRIMARY KEY,
			ts                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			from_account      VARCHAR(64) NOT NULL,
			to_account        VARCHAR(64) NOT NULL,
			amount            DECIMAL(20,2) NOT NULL,
			merchant_category VARCHAR(64) NOT NULL,
			device_id         VARCHAR(64),
			location          VARCHAR(64),
			hour              SMALLINT NOT NULL,
			day_of_week       VARCHAR(10),
			velocity          INTEGER DEFAULT 0,
			is_fraud          BOOLEAN DEFAULT FALSE,
			fraud_reason      TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_ts ON transactions(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_transactions_merchant ON transactions(merchant_category);
		CREATE INDEX IF NOT EXISTS idx_transactions_fraud ON transactions(is_fraud) WHERE is_fraud;
	`)
	return err
}

const txColumns = `id, ts, from_account, to_account, amount, merchant_category,
       device_id, location, hour, day_of_week, velocity, is_fraud, fraud_reason`

func scanTransaction(row interface{ Scan(...any) error }) (*Transaction, error) {
	tx := &Transaction{}
	var deviceID, location, dayOfWeek, fraudReason sql.NullString
	err := row.Scan(
		&tx.ID, &tx.Timestamp, &tx.FromAccount, &tx.ToAccount, &tx.Amount,
		&tx.MerchantCategory, &deviceID, &location, &tx.Hour, &dayOfWeek,
		&tx.Velocity, &tx.IsFraud, &fraudReason,
	)
	if err != nil {
		return nil, err
	}
	tx.DeviceID = deviceID.String
	tx.Location = location.String
	tx.DayOfWeek = dayOfWeek.String
	tx.FraudReason = fraudReason.String
	return tx, nil
}

// Create stores a new transaction
func (p *PostgresStore) Create(ctx context.Context, tx *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, ts, from_account, to_account, amount, merchant_category,
			device_id, location, hour, day_of_week, velocity, is_fraud, fraud_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`,
		tx.ID, tx.Timestamp, tx.FromAccount, tx.ToAccount, tx.Amount, tx.MerchantCategory,
		tx.DeviceID, tx.Location, tx.Hour, tx.DayOfWeek, tx.Velocity, tx.IsFraud, tx.FraudReason,
	)
	return err
}

// Get retrieves a transaction by ID
func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	tx, err := scanTransaction(p.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return tx, err
}

// List returns transactions with filters, newest first
func (p *PostgresStore) List(ctx context.Context, opts ListOptions) ([]*Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE 1=1`
	args := []interface{}{}
	n := 1

	if opts.IsFraud != nil {
		query += " AND is_fraud = $" + strconv.Itoa(n)
		args = append(args, *opts.IsFraud)
		n++
	}
	if opts.MerchantCategory != "" {
		query += " AND merchant_category = $" + strconv.Itoa(n)
		args = append(args, opts.MerchantCategory)
		n++
	}
	if opts.MinAmount != nil {
		query += " AND amount >= $" + strconv.Itoa(n)
		args = append(args, *opts.MinAmount)
		n++
	}
	if opts.MaxAmount != nil {
		query += " AND amount <= $" + strconv.Itoa(n)
		args = append(args, *opts.MaxAmount)
		n++
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize < 1 {
		pageSize = 50
	}

	query += " ORDER BY ts DESC LIMIT $" + strconv.Itoa(n) + " OFFSET $" + strconv.Itoa(n+1)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// Metrics computes dashboard aggregates
func (p *PostgresStore) Metrics(ctx context.Context) (*Metrics, error) {
	metrics := &Metrics{}
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_fraud),
		       COALESCE(SUM(amount) FILTER (WHERE is_fraud), 0),
		       COUNT(*) FILTER (WHERE ts >= date_trunc('day', NOW())),
		       COUNT(*) FILTER (WHERE amount > 5000
		           OR merchant_category IN ('Gift Cards', 'Crypto', 'Wire Transfer')
		           OR location IN ('Unknown', 'Foreign', 'VPN'))
		FROM transactions
	`).Scan(
		&metrics.TotalTransactions, &metrics.FraudDetected, &metrics.MoneySaved,
		&metrics.TransactionsToday, &metrics.HighRiskCount,
	)
	if err != nil {
		return nil, err
	}
	if metrics.TotalTransactions > 0 {
		metrics.FraudRate = float64(metrics.FraudDetected) / float64(metrics.TotalTransactions)
	}
	return metrics, nil
}

// MerchantCategories returns the distinct merchant categories
func (p *PostgresStore) MerchantCategories(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT DISTINCT merchant_category FROM transactions ORDER BY merchant_category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// HourlyStats aggregates transactions by hour of day
func (p *PostgresStore) HourlyStats(ctx context.Context) ([]*HourlyStat, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT hour, COUNT(*), COUNT(*) FILTER (WHERE is_fraud), COALESCE(SUM(amount), 0)
		FROM transactions
		GROUP BY hour
		ORDER BY hour
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*HourlyStat
	for rows.Next() {
		stat := &HourlyStat{}
		if err := rows.Scan(&stat.Hour, &stat.Count, &stat.FraudCount, &stat.TotalAmount); err != nil {
			return nil, err
		}
		stat.FraudRate = float64(stat.FraudCount) / float64(stat.Count)
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// MerchantStats aggregates transactions by merchant category, riskiest first
func (p *PostgresStore) MerchantStats(ctx context.Context) ([]*MerchantStat, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT merchant_category, COUNT(*), COUNT(*) FILTER (WHERE is_fraud),
		       COALESCE(SUM(amount), 0), COALESCE(AVG(amount), 0)
		FROM transactions
		GROUP BY merchant_category
		ORDER BY COUNT(*) FILTER (WHERE is_fraud)::float / COUNT(*) DESC, merchant_category
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*MerchantStat
	for rows.Next() {
		stat := &MerchantStat{}
		if err := rows.Scan(&stat.Category, &stat.Count, &stat.FraudCount, &stat.TotalAmount, &stat.AvgAmount); err != nil {
			return nil, err
		}
		stat.FraudRate = float64(stat.FraudCount) / float64(stat.Count)
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}
