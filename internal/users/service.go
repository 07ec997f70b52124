package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	minUsernameLength = 3
	minPasswordLength = 8
)

var (
	// ErrUsernameTaken indicates a registration against an existing username.
	ErrUsernameTaken = errors.New("users: username already registered")
	// ErrInvalidCredentials indicates a failed login.
	ErrInvalidCredentials = errors.New("users: invalid username or password")
	// ErrInvalidInput indicates a username or password outside accepted bounds.
	ErrInvalidInput = errors.New("users: invalid registration input")
)

// ServiceConfig describes the dependencies for the credential service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages local username/password credentials.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the credential service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// Register creates a credential row. Duplicate usernames are rejected before
// any hashing work happens.
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	username = normalizeUsername(username)
	if len(username) < minUsernameLength || len(password) < minPasswordLength {
		return nil, ErrInvalidInput
	}

	var existing User
	err := s.db.WithContext(ctx).Where("username = ?", username).Take(&existing).Error
	if err == nil {
		return nil, ErrUsernameTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error("user lookup failed", zap.String("username", username), zap.Error(err))
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := User{
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		s.logger.Error("user insert failed", zap.String("username", username), zap.Error(err))
		return nil, err
	}
	s.logger.Info("user registered", zap.String("username", username))
	return &user, nil
}

// Login verifies a credential pair and returns the matching user.
func (s *Service) Login(ctx context.Context, username, password string) (*User, error) {
	username = normalizeUsername(username)

	var user User
	err := s.db.WithContext(ctx).Where("username = ?", username).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		s.logger.Error("user lookup failed", zap.String("username", username), zap.Error(err))
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}
