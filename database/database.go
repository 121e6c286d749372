// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package database provides the SQLite-backed balance store. It implements
// the insurance ledger's BalanceStore interface and keeps a payout audit
// trail. An in-memory database is used when no data directory is given,
// which is also what tests use.
package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/FentonA/flightsurety/database/models"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientBalance = errors.New("account balance is insufficient")
)

type Config struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	DataDir      string
}

type Store struct {
	logger  *slog.Logger
	db      *gorm.DB
	dataDir string
	metrics struct {
		transfersTotal prometheus.Counter
		depositsTotal  prometheus.Counter
	}
}

// New creates a balance store. Uses an in-memory database if dataDir is empty.
func New(config *Config) (*Store, error) {
	var balanceDb *gorm.DB
	var err error
	if config.DataDir == "" {
		// cache=shared allows multiple connections to share the same in-memory database
		balanceDb, err = gorm.Open(
			sqlite.Open("file::memory:?cache=shared"),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(config.DataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(config.DataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		balanceDbPath := filepath.Join(config.DataDir, "balances.sqlite")
		balanceConnOpts := "_pragma=journal_mode(WAL)"
		balanceDb, err = gorm.Open(
			sqlite.Open(
				fmt.Sprintf("file:%s?%s", balanceDbPath, balanceConnOpts),
			),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	}
	s := &Store{
		db:      balanceDb,
		dataDir: config.DataDir,
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		s.logger = config.Logger
	}
	for _, model := range models.MigrateModels {
		if err := s.db.AutoMigrate(model); err != nil {
			return nil, err
		}
	}
	promautoFactory := promauto.With(config.PromRegistry)
	s.metrics.transfersTotal = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "flightsurety_balance_transfers_total",
			Help: "total payout transfers applied to accounts",
		},
	)
	s.metrics.depositsTotal = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "flightsurety_balance_deposits_total",
			Help: "total premium captures from accounts",
		},
	)
	return s, nil
}

// Close cleans up the database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Balance returns the spendable balance for an account. Unknown accounts
// have a zero balance.
func (s *Store) Balance(ctx context.Context, account string) (uint64, error) {
	var tmpAccount models.Account
	result := s.db.WithContext(ctx).
		Where("address = ?", account).
		First(&tmpAccount)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, result.Error
	}
	return tmpAccount.Balance, nil
}

// Deposit adds external funds to an account, creating it if needed
func (s *Store) Deposit(
	ctx context.Context,
	account string,
	amount uint64,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tmpAccount models.Account
		result := tx.Where("address = ?", account).First(&tmpAccount)
		if result.Error != nil {
			if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return result.Error
			}
			tmpAccount = models.Account{Address: account}
		}
		tmpAccount.Balance += amount
		return tx.Save(&tmpAccount).Error
	})
}

// DepositFrom captures a premium payment out of an account's balance
func (s *Store) DepositFrom(
	ctx context.Context,
	account string,
	amount uint64,
) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tmpAccount models.Account
		result := tx.Where("address = ?", account).First(&tmpAccount)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return result.Error
		}
		if tmpAccount.Balance < amount {
			return ErrInsufficientBalance
		}
		tmpAccount.Balance -= amount
		return tx.Save(&tmpAccount).Error
	})
	if err != nil {
		return err
	}
	s.metrics.depositsTotal.Inc()
	s.logger.Debug(
		"captured premium",
		"component", "database",
		"account", account,
		"amount", amount,
	)
	return nil
}

// Transfer pays out a credited amount to an account and records the payout
func (s *Store) Transfer(
	ctx context.Context,
	account string,
	amount uint64,
) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tmpAccount models.Account
		result := tx.Where("address = ?", account).First(&tmpAccount)
		if result.Error != nil {
			if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return result.Error
			}
			tmpAccount = models.Account{Address: account}
		}
		tmpAccount.Balance += amount
		if err := tx.Save(&tmpAccount).Error; err != nil {
			return err
		}
		return tx.Create(&models.PayoutRecord{
			Address: account,
			Amount:  amount,
		}).Error
	})
	if err != nil {
		return err
	}
	s.metrics.transfersTotal.Inc()
	s.logger.Info(
		"transferred payout",
		"component", "database",
		"account", account,
		"amount", amount,
	)
	return nil
}

// PayoutRecords returns the payout audit trail for an account
func (s *Store) PayoutRecords(
	ctx context.Context,
	account string,
) ([]models.PayoutRecord, error) {
	var records []models.PayoutRecord
	result := s.db.WithContext(ctx).
		Where("address = ?", account).
		Order("id").
		Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}
	return records, nil
}
