package transaction

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for development and testing
type MemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]*Transaction
}

// NewMemoryStore creates a new in-memory transaction store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]*Transaction),
	}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

// Create stores a new transaction
func (m *MemoryStore) Create(ctx context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now()
	}
	copy := *tx
	m.transactions[tx.ID] = &copy
	return nil
}

// Get retrieves a transaction by ID
func (m *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *tx
	return &copy, nil
}

// List returns transactions with filters, newest first
func (m *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var txs []*Transaction
	for _, tx := range m.transactions {
		if opts.IsFraud != nil && tx.IsFraud != *opts.IsFraud {
			continue
		}
		if opts.MerchantCategory != "" && tx.MerchantCategory != opts.MerchantCategory {
			continue
		}
		if opts.MinAmount != nil && tx.Amount < *opts.MinAmount {
			continue
		}
		if opts.MaxAmount != nil && tx.Amount > *opts.MaxAmount {
			continue
		}
		copy := *tx
		txs = append(txs, &copy)
	}

	sort.Slice(txs, func(i, j int) bool {
		return txs[i].Timestamp.After(txs[j].Timestamp)
	})

	// Paginate
	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	start := (page - 1) * pageSize
	if start >= len(txs) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(txs) {
		end = len(txs)
	}
	return txs[start:end], nil
}

// Metrics computes dashboard aggregates
func (m *MemoryStore) Metrics(ctx context.Context) (*Metrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics := &Metrics{}
	today := time.Now().Truncate(24 * time.Hour)

	for _, tx := range m.transactions {
		metrics.TotalTransactions++
		if tx.IsFraud {
			metrics.FraudDetected++
			metrics.MoneySaved += tx.Amount
		}
		if !tx.Timestamp.Before(today) {
			metrics.TransactionsToday++
		}
		if IsHighRisk(tx) {
			metrics.HighRiskCount++
		}
	}
	if metrics.TotalTransactions > 0 {
		metrics.FraudRate = float64(metrics.FraudDetected) / float64(metrics.TotalTransactions)
	}
	return metrics, nil
}

// MerchantCategories returns the distinct merchant categories
func (m *MemoryStore) MerchantCategories(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var categories []string
	for _, tx := range m.transactions {
		if !seen[tx.MerchantCategory] {
			seen[tx.MerchantCategory] = true
			categories = append(categories, tx.MerchantCategory)
		}
	}
	sort.Strings(categories)
	return categories, nil
}

// HourlyStats aggregates transactions by hour of day
func (m *MemoryStore) HourlyStats(ctx context.Context) ([]*HourlyStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byHour := make(map[int]*HourlyStat)
	for _, tx := range m.transactions {
		stat, ok := byHour[tx.Hour]
		if !ok {
			stat = &HourlyStat{Hour: tx.Hour}
			byHour[tx.Hour] = stat
		}
		stat.Count++
		stat.TotalAmount += tx.Amount
		if tx.IsFraud {
			stat.FraudCount++
		}
	}

	var stats []*HourlyStat
	for _, stat := range byHour {
		stat.FraudRate = float64(stat.FraudCount) / float64(stat.Count)
		stats = append(stats, stat)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Hour < stats[j].Hour })
	return stats, nil
}

// MerchantStats aggregates transactions by merchant category, riskiest first
func (m *MemoryStore) MerchantStats(ctx context.Context) ([]*MerchantStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byCategory := make(map[string]*MerchantStat)
	for _, tx := range m.transactions {
		stat, ok := byCategory[tx.MerchantCategory]
		if !ok {
			stat = &MerchantStat{Category: tx.MerchantCategory}
			byCategory[tx.MerchantCategory] = stat
		}
		stat.Count++
		stat.TotalAmount += tx.Amount
		if tx.IsFraud {
			stat.FraudCount++
		}
	}

	var stats []*MerchantStat
	for _, stat := range byCategory {
		stat.AvgAmount = stat.TotalAmount / float64(stat.Count)
		stat.FraudRate = float64(stat.FraudCount) / float64(stat.Count)
		stats = append(stats, stat)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].FraudRate != stats[j].FraudRate {
			return stats[i].FraudRate > stats[j].FraudRate
		}
		return stats[i].Category < stats[j].Category
	})
	return stats, nil
}
