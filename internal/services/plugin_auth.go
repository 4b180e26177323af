package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/monkbot/gateway/internal/models"
	"github.com/monkbot/gateway/internal/utils"
	"gorm.io/gorm"
)

// AuthorizedKey is the result of a successful plugin authorization.
type AuthorizedKey struct {
	Key    *models.APIKey
	Domain string
}

// PluginAuthService resolves a bearer token and calling domain to a key.
// It only reads.
type PluginAuthService struct {
	db *gorm.DB
}

func NewPluginAuthService(db *gorm.DB) *PluginAuthService {
	return &PluginAuthService{db: db}
}

// ParseBearer extracts the token from an Authorization header. The scheme
// is matched case-insensitively; anything malformed yields "".
func ParseBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Authorize checks, in order: bearer present, key known and active,
// domain header usable, domain bound and active on the key.
func (s *PluginAuthService) Authorize(ctx context.Context, authorization, domainHeader string) (*AuthorizedKey, error) {
	token := ParseBearer(authorization)
	if token == "" {
		return nil, ErrMissingBearer
	}

	var key models.APIKey
	err := s.db.WithContext(ctx).Where("key_hash = ?", utils.HashAPIKey(token)).First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("looking up api key: %w", err)
	}
	if !key.IsActive() {
		return nil, ErrInvalidKey
	}

	domain := utils.NormalizeDomain(domainHeader)
	if domain == "" {
		return nil, ErrMissingDomain
	}

	var bound int64
	err = s.db.WithContext(ctx).Model(&models.AllowedDomain{}).
		Where("api_key_id = ? AND domain = ? AND status = ?", key.ID, domain, models.DomainStatusActive).
		Count(&bound).Error
	if err != nil {
		return nil, fmt.Errorf("checking domain binding: %w", err)
	}
	if bound == 0 {
		return nil, ErrDomainNotLinked
	}

	return &AuthorizedKey{Key: &key, Domain: domain}, nil
}
