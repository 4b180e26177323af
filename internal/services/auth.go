package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/monkbot/gateway/internal/config"
	"github.com/monkbot/gateway/internal/models"
	"github.com/monkbot/gateway/internal/utils"
	"github.com/monkbot/gateway/pkg/logger"
	"gorm.io/gorm"
)

type AuthService struct {
	db        *gorm.DB
	keys      *KeyService
	jwtConfig *config.JWTConfig
}

func NewAuthService(db *gorm.DB, keys *KeyService, jwtCfg *config.JWTConfig) *AuthService {
	return &AuthService{
		db:        db,
		keys:      keys,
		jwtConfig: jwtCfg,
	}
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	Name     string `json:"name"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResult struct {
	Token    string       `json:"token"`
	ExpireAt time.Time    `json:"expire_at"`
	User     *models.User `json:"user"`
}

// RegisterResult carries the raw token of the provisioned key, the only
// time it is returned.
type RegisterResult struct {
	LoginResult
	Key    *models.APIKey
	RawKey string
}

// Register creates an account together with one free key holding the
// configured starting credits.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*RegisterResult, error) {
	email := normalizeEmail(req.Email)
	hashed, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:    email,
		Password: hashed,
		Name:     strings.TrimSpace(req.Name),
		Role:     models.RoleUser,
		IsActive: true,
	}

	var issued *IssuedKey
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// the unique email index decides between concurrent registrations
		if err := tx.Create(user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrUserExists
			}
			return fmt.Errorf("creating user: %w", err)
		}

		var err error
		issued, err = s.keys.createKeyTx(tx, CreateKeyInput{
			UserID: &user.ID,
			Label:  "Default",
			Plan:   models.PlanFree,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	login, err := s.issueSession(user)
	if err != nil {
		return nil, err
	}

	logger.Info().Uint("user_id", user.ID).Str("key_prefix", issued.Key.KeyPrefix).Msg("[Auth] account registered")
	return &RegisterResult{LoginResult: *login, Key: issued.Key, RawKey: issued.RawKey}, nil
}

// Login checks credentials. Unknown email, wrong password and disabled
// account all yield ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*LoginResult, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(req.Email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsActive || !utils.CheckPassword(req.Password, user.Password) {
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	user.LastLogin = &now
	if err := s.db.WithContext(ctx).Model(&user).Update("last_login", now).Error; err != nil {
		logger.Warn().Err(err).Uint("user_id", user.ID).Msg("[Auth] failed to stamp last login")
	}

	return s.issueSession(&user)
}

func (s *AuthService) issueSession(user *models.User) (*LoginResult, error) {
	hours := s.expireHours()
	token, err := utils.GenerateToken(user.ID, user.Email, user.Role, hours)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Token:    token,
		ExpireAt: time.Now().Add(time.Duration(hours) * time.Hour),
		User:     user,
	}, nil
}

func (s *AuthService) expireHours() int {
	if s.jwtConfig != nil && s.jwtConfig.ExpireHour > 0 {
		return s.jwtConfig.ExpireHour
	}
	return 24 * 7
}

// GetUserByID retrieves a user by ID
func (s *AuthService) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// ListUsers returns every account with its keys and bindings.
func (s *AuthService) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Preload("Keys", func(db *gorm.DB) *gorm.DB { return db.Order("created_at DESC") }).
		Preload("Keys.Domains").
		Order("created_at DESC").
		Find(&users).Error
	return users, err
}

// CreateAdminIfNotExists creates the bootstrap administrator when no admin
// account exists and credentials are configured.
func (s *AuthService) CreateAdminIfNotExists(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashed, err := utils.HashPassword(password)
	if err != nil {
		return err
	}
	admin := models.User{
		Email:    normalizeEmail(email),
		Password: hashed,
		Name:     "Administrator",
		Role:     models.RoleAdmin,
		IsActive: true,
	}
	if err := s.db.WithContext(ctx).Create(&admin).Error; err != nil {
		return err
	}
	logger.Infof("[Auth] default administrator %s created", admin.Email)
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
