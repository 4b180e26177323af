package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/monkbot/gateway/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreditService is the only writer of api_keys.credits_remaining. Every
// balance change it makes is paired with exactly one ledger entry in the
// same transaction.
type CreditService struct {
	db *gorm.DB
}

func NewCreditService(db *gorm.DB) *CreditService {
	return &CreditService{db: db}
}

// Consume debits amount from an active key if the balance covers it.
// The check and the decrement are a single conditional UPDATE, so
// concurrent callers can never overdraw the balance. amount <= 0 is a no-op.
func (s *CreditService) Consume(ctx context.Context, keyID string, amount int, reason string, meta map[string]interface{}) error {
	if amount <= 0 {
		return nil
	}

	metaJSON, err := encodeMeta(meta)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.APIKey{}).
			Where("id = ? AND status = ? AND credits_remaining >= ?", keyID, models.KeyStatusActive, amount).
			UpdateColumns(map[string]interface{}{
				"credits_remaining": gorm.Expr("credits_remaining - ?", amount),
				"last_used_at":      time.Now(),
			})
		if result.Error != nil {
			return fmt.Errorf("debiting key %s: %w", keyID, result.Error)
		}
		if result.RowsAffected != 1 {
			return ErrInsufficientCredits
		}

		entry := models.CreditLedgerEntry{
			APIKeyID: keyID,
			Delta:    -amount,
			Reason:   reason,
			Meta:     metaJSON,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("writing ledger entry: %w", err)
		}
		return nil
	})
}

// Grant applies an administrative adjustment of any sign. It is not
// conditioned on the current balance.
func (s *CreditService) Grant(ctx context.Context, keyID string, delta int, reason string, meta map[string]interface{}) (*models.APIKey, error) {
	var key models.APIKey
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := grantTx(tx, keyID, delta, reason, meta); err != nil {
			return err
		}
		return tx.First(&key, "id = ?", keyID).Error
	})
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// grantTx is Grant inside a caller-owned transaction.
func grantTx(tx *gorm.DB, keyID string, delta int, reason string, meta map[string]interface{}) error {
	metaJSON, err := encodeMeta(meta)
	if err != nil {
		return err
	}

	// lock the row first; MySQL reports zero affected rows for a 0 delta
	var key models.APIKey
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&key, "id = ?", keyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("loading key %s: %w", keyID, err)
	}

	if err := tx.Model(&models.APIKey{}).
		Where("id = ?", keyID).
		UpdateColumn("credits_remaining", gorm.Expr("credits_remaining + ?", delta)).Error; err != nil {
		return fmt.Errorf("crediting key %s: %w", keyID, err)
	}

	entry := models.CreditLedgerEntry{
		APIKeyID: keyID,
		Delta:    delta,
		Reason:   reason,
		Meta:     metaJSON,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("writing ledger entry: %w", err)
	}
	return nil
}

// Balance returns the stored balance of a key.
func (s *CreditService) Balance(ctx context.Context, keyID string) (int, error) {
	var key models.APIKey
	if err := s.db.WithContext(ctx).Select("credits_remaining").First(&key, "id = ?", keyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrKeyNotFound
		}
		return 0, err
	}
	return key.CreditsRemaining, nil
}

// LedgerSum returns the sum of all deltas recorded for a key.
func (s *CreditService) LedgerSum(ctx context.Context, keyID string) (int, error) {
	var sum int
	err := s.db.WithContext(ctx).Model(&models.CreditLedgerEntry{}).
		Where("api_key_id = ?", keyID).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&sum).Error
	return sum, err
}

// Entries lists the newest ledger entries of a key.
func (s *CreditService) Entries(ctx context.Context, keyID string, limit int) ([]models.CreditLedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []models.CreditLedgerEntry
	err := s.db.WithContext(ctx).
		Where("api_key_id = ?", keyID).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// BalanceDrift is a key whose balance disagrees with its ledger.
type BalanceDrift struct {
	APIKeyID  string `json:"api_key_id"`
	Balance   int    `json:"balance"`
	LedgerSum int    `json:"ledger_sum"`
}

// Reconcile returns every key whose balance differs from the sum of its
// ledger deltas. An empty result means the ledger is consistent.
func (s *CreditService) Reconcile(ctx context.Context) ([]BalanceDrift, error) {
	var drifts []BalanceDrift
	err := s.db.WithContext(ctx).
		Table("api_keys AS k").
		Select("k.id AS api_key_id, k.credits_remaining AS balance, COALESCE(SUM(l.delta), 0) AS ledger_sum").
		Joins("LEFT JOIN credit_ledger AS l ON l.api_key_id = k.id").
		Group("k.id, k.credits_remaining").
		Having("k.credits_remaining <> COALESCE(SUM(l.delta), 0)").
		Scan(&drifts).Error
	if err != nil {
		return nil, err
	}
	return drifts, nil
}

func encodeMeta(meta map[string]interface{}) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encoding ledger meta: %w", err)
	}
	return string(b), nil
}
