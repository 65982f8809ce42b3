// Package ingest loads the raw data files and merges them into the
// single per-transaction frame the transform stage consumes.
package ingest

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fraudlab/pipeline/internal/frame"
)

// Config names the raw files under the data directory and the columns
// the merge keys on.
type Config struct {
	TransactionsFile string
	UsersFile        string
	MerchantsFile    string
	GeoFile          string

	UserKey        string
	MerchantKey    string
	TransactionKey string

	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.TransactionsFile == "" {
		c.TransactionsFile = "transactions.json"
	}
	if c.UsersFile == "" {
		c.UsersFile = "users.csv"
	}
	if c.MerchantsFile == "" {
		c.MerchantsFile = "merchants.csv"
	}
	if c.GeoFile == "" {
		c.GeoFile = "geo_df.csv"
	}
	if c.UserKey == "" {
		c.UserKey = "user_id"
	}
	if c.MerchantKey == "" {
		c.MerchantKey = "merchant_id"
	}
	if c.TransactionKey == "" {
		c.TransactionKey = "transaction_id"
	}
	return c
}

// Load reads the four raw sources and left-joins them onto the
// transaction log. Both reference tables carry a country column, so
// each is renamed before joining to keep the merchant and user
// countries distinct from the transaction's own.
func Load(dataDir string, cfg Config) (*frame.Frame, error) {
	cfg = cfg.withDefaults()
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	txns, err := frame.ReadNDJSON(filepath.Join(dataDir, cfg.TransactionsFile))
	if err != nil {
		return nil, fmt.Errorf("loading transactions: %w", err)
	}
	users, err := frame.ReadCSV(filepath.Join(dataDir, cfg.UsersFile))
	if err != nil {
		return nil, fmt.Errorf("loading users: %w", err)
	}
	merchants, err := frame.ReadCSV(filepath.Join(dataDir, cfg.MerchantsFile))
	if err != nil {
		return nil, fmt.Errorf("loading merchants: %w", err)
	}
	geo, err := frame.ReadCSV(filepath.Join(dataDir, cfg.GeoFile))
	if err != nil {
		return nil, fmt.Errorf("loading geo: %w", err)
	}

	if merchants.Has("country") {
		if err := merchants.Rename("country", "country_merchant"); err != nil {
			return nil, err
		}
	}
	if users.Has("country") {
		if err := users.Rename("country", "country_users"); err != nil {
			return nil, err
		}
	}

	merged, err := txns.LeftJoin(merchants, cfg.MerchantKey)
	if err != nil {
		return nil, fmt.Errorf("joining merchants: %w", err)
	}
	merged, err = merged.LeftJoin(users, cfg.UserKey)
	if err != nil {
		return nil, fmt.Errorf("joining users: %w", err)
	}
	merged, err = merged.LeftJoin(geo, cfg.TransactionKey)
	if err != nil {
		return nil, fmt.Errorf("joining geo: %w", err)
	}

	log.Info("raw data merged",
		zap.Int("transactions", txns.NumRows()),
		zap.Int("users", users.NumRows()),
		zap.Int("merchants", merchants.NumRows()),
		zap.Int("columns", merged.NumCols()))
	return merged, nil
}
