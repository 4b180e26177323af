package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/monkbot/gateway/internal/models"
	"github.com/monkbot/gateway/internal/utils"
	"github.com/monkbot/gateway/pkg/response"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KeyPolicy carries the provisioning defaults taken from config.
type KeyPolicy struct {
	DefaultModel    string
	DefaultCredits  int
	FreeDomainLimit int
	RetainPlaintext bool
}

// KeyService manages keys and their domain bindings. Balance changes go
// through grantTx so the ledger stays paired with the balance.
type KeyService struct {
	db     *gorm.DB
	policy KeyPolicy
}

func NewKeyService(db *gorm.DB, policy KeyPolicy) *KeyService {
	return &KeyService{db: db, policy: policy}
}

// CreateKeyInput describes a key to provision. Nil Credits means the
// configured free allowance.
type CreateKeyInput struct {
	UserID           *uint
	Label            string
	Plan             string
	MonthlyCreditCap *int
	Credits          *int
}

// IssuedKey is a key together with its raw token, which is only ever
// available in this value.
type IssuedKey struct {
	Key    *models.APIKey
	RawKey string
}

func (s *KeyService) CreateKey(ctx context.Context, in CreateKeyInput) (*IssuedKey, error) {
	var issued *IssuedKey
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		issued, err = s.createKeyTx(tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// createKeyTx inserts the key with a zero balance and applies the opening
// credits as an initial_grant ledger entry.
func (s *KeyService) createKeyTx(tx *gorm.DB, in CreateKeyInput) (*IssuedKey, error) {
	plan, ok := models.NormalizePlan(in.Plan)
	if !ok {
		return nil, ErrInvalidPlan
	}
	credits := s.policy.DefaultCredits
	if in.Credits != nil {
		credits = *in.Credits
	}
	if credits < 0 {
		return nil, response.NewBadRequest("creditsRemaining must not be negative")
	}

	gen, err := utils.GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	key := &models.APIKey{
		UserID:           in.UserID,
		Label:            strings.TrimSpace(in.Label),
		KeyPrefix:        gen.KeyPrefix,
		KeyHash:          gen.KeyHash,
		KeyToken:         s.plaintext(gen.RawKey),
		Plan:             plan,
		Status:           models.KeyStatusActive,
		Model:            s.policy.DefaultModel,
		MonthlyCreditCap: in.MonthlyCreditCap,
	}
	if err := tx.Create(key).Error; err != nil {
		return nil, fmt.Errorf("creating api key: %w", err)
	}

	if credits > 0 {
		if err := grantTx(tx, key.ID, credits, models.ReasonInitialGrant, nil); err != nil {
			return nil, err
		}
		key.CreditsRemaining = credits
	}

	return &IssuedKey{Key: key, RawKey: gen.RawKey}, nil
}

func (s *KeyService) plaintext(raw string) *string {
	if !s.policy.RetainPlaintext {
		return nil
	}
	return &raw
}

func (s *KeyService) GetKey(ctx context.Context, keyID string) (*models.APIKey, error) {
	var key models.APIKey
	if err := s.db.WithContext(ctx).Preload("Domains").First(&key, "id = ?", keyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return &key, nil
}

// ListOwnerKeys returns the account's keys with bindings, newest first.
func (s *KeyService) ListOwnerKeys(ctx context.Context, userID uint) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := s.db.WithContext(ctx).
		Preload("Domains", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error
	return keys, err
}

// ownerKeyTx loads the account's first key under a row lock.
func ownerKeyTx(tx *gorm.DB, userID uint) (*models.APIKey, error) {
	var key models.APIKey
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoKeys
		}
		return nil, err
	}
	return &key, nil
}

// RotateOwnerKey replaces the token of the account's first key. Balance,
// plan and bindings stay as they were.
func (s *KeyService) RotateOwnerKey(ctx context.Context, userID uint) (*IssuedKey, error) {
	var issued *IssuedKey
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		key, err := ownerKeyTx(tx, userID)
		if err != nil {
			return err
		}

		gen, err := utils.GenerateAPIKey()
		if err != nil {
			return err
		}
		updates := map[string]interface{}{
			"key_prefix":   gen.KeyPrefix,
			"key_hash":     gen.KeyHash,
			"key_token":    s.plaintext(gen.RawKey),
			"last_used_at": nil,
		}
		if err := tx.Model(key).Updates(updates).Error; err != nil {
			return fmt.Errorf("rotating key %s: %w", key.ID, err)
		}
		if err := tx.First(key, "id = ?", key.ID).Error; err != nil {
			return err
		}
		issued = &IssuedKey{Key: key, RawKey: gen.RawKey}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// AddOwnerDomain binds domain to the account's first key.
func (s *KeyService) AddOwnerDomain(ctx context.Context, userID uint, domain string) (*models.AllowedDomain, error) {
	normalized := utils.NormalizeDomain(domain)
	if normalized == "" {
		return nil, ErrInvalidDomain
	}

	var binding *models.AllowedDomain
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		key, err := ownerKeyTx(tx, userID)
		if err != nil {
			return err
		}
		binding, err = s.linkTx(tx, key, normalized, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return binding, nil
}

// RemoveOwnerDomain revokes a binding that belongs to one of the account's
// keys. Anything else is reported as not found.
func (s *KeyService) RemoveOwnerDomain(ctx context.Context, userID uint, bindingID string) error {
	var binding models.AllowedDomain
	err := s.db.WithContext(ctx).
		Joins("JOIN api_keys ON api_keys.id = allowed_domains.api_key_id").
		Where("allowed_domains.id = ? AND api_keys.user_id = ?", bindingID, userID).
		First(&binding).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDomainNotOwned
		}
		return err
	}
	return s.db.WithContext(ctx).Model(&binding).Update("status", models.DomainStatusRevoked).Error
}

// LinkDomain upserts an active binding for an administrator. Linking a
// domain that is already active is a no-op.
func (s *KeyService) LinkDomain(ctx context.Context, keyID, domain string) (*models.AllowedDomain, error) {
	normalized := utils.NormalizeDomain(domain)
	if normalized == "" {
		return nil, ErrInvalidDomain
	}

	var binding *models.AllowedDomain
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var key models.APIKey
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&key, "id = ?", keyID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrKeyNotFound
			}
			return err
		}
		var err error
		binding, err = s.linkTx(tx, &key, normalized, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return binding, nil
}

// linkTx activates (key, domain) inside a transaction holding the key row
// lock, so concurrent links on one key cannot both pass the plan limit.
func (s *KeyService) linkTx(tx *gorm.DB, key *models.APIKey, domain string, activeIsOK bool) (*models.AllowedDomain, error) {
	var existing models.AllowedDomain
	err := tx.Where("api_key_id = ? AND domain = ?", key.ID, domain).First(&existing).Error
	found := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if found && existing.Status == models.DomainStatusActive {
		if activeIsOK {
			return &existing, nil
		}
		return nil, ErrDomainExists
	}

	if err := s.checkDomainLimit(tx, key); err != nil {
		return nil, err
	}

	if found {
		if err := tx.Model(&existing).Update("status", models.DomainStatusActive).Error; err != nil {
			return nil, fmt.Errorf("reactivating binding: %w", err)
		}
		existing.Status = models.DomainStatusActive
		return &existing, nil
	}

	binding := &models.AllowedDomain{
		APIKeyID: key.ID,
		Domain:   domain,
		Status:   models.DomainStatusActive,
	}
	if err := tx.Create(binding).Error; err != nil {
		return nil, fmt.Errorf("creating binding: %w", err)
	}
	return binding, nil
}

func (s *KeyService) checkDomainLimit(tx *gorm.DB, key *models.APIKey) error {
	if key.Plan != models.PlanFree || s.policy.FreeDomainLimit <= 0 {
		return nil
	}
	var active int64
	err := tx.Model(&models.AllowedDomain{}).
		Where("api_key_id = ? AND status = ?", key.ID, models.DomainStatusActive).
		Count(&active).Error
	if err != nil {
		return err
	}
	if int(active) >= s.policy.FreeDomainLimit {
		return domainLimitError(s.policy.FreeDomainLimit)
	}
	return nil
}

// UnlinkDomain revokes the binding of domain on a key.
func (s *KeyService) UnlinkDomain(ctx context.Context, keyID, domain string) (*models.AllowedDomain, error) {
	normalized := utils.NormalizeDomain(domain)
	if normalized == "" {
		return nil, ErrInvalidDomain
	}

	var binding models.AllowedDomain
	db := s.db.WithContext(ctx)
	if err := db.Where("api_key_id = ? AND domain = ?", keyID, normalized).First(&binding).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDomainBindingNotFound
		}
		return nil, err
	}
	if err := db.Model(&binding).Update("status", models.DomainStatusRevoked).Error; err != nil {
		return nil, err
	}
	binding.Status = models.DomainStatusRevoked
	return &binding, nil
}

// SetModel assigns the model every completion on the key is sent with.
func (s *KeyService) SetModel(ctx context.Context, keyID, model string) (*models.APIKey, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, response.NewBadRequest("model is required")
	}
	return s.updateKey(ctx, keyID, "model", model)
}

func (s *KeyService) SetStatus(ctx context.Context, keyID, status string) (*models.APIKey, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != models.KeyStatusActive && status != models.KeyStatusDisabled {
		return nil, ErrInvalidKeyStatus
	}
	return s.updateKey(ctx, keyID, "status", status)
}

func (s *KeyService) updateKey(ctx context.Context, keyID, column string, value interface{}) (*models.APIKey, error) {
	db := s.db.WithContext(ctx)
	result := db.Model(&models.APIKey{}).Where("id = ?", keyID).Update(column, value)
	if result.Error != nil {
		return nil, result.Error
	}
	var key models.APIKey
	if err := db.First(&key, "id = ?", keyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return &key, nil
}
