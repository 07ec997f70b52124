package users

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestUsersService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:users_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	return service, db
}

func TestRegisterAndLoginRoundTrip(t *testing.T) {
	service, _ := newTestUsersService(t)

	registered, err := service.Register(context.Background(), "Alice", "s3cret-password")
	if err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if registered.Username != "alice" {
		t.Fatalf("expected normalized username, got %q", registered.Username)
	}
	if registered.PasswordHash == "s3cret-password" {
		t.Fatalf("password stored in plain text")
	}

	loggedIn, err := service.Login(context.Background(), "alice", "s3cret-password")
	if err != nil {
		t.Fatalf("unexpected login error: %v", err)
	}
	if loggedIn.ID != registered.ID {
		t.Fatalf("login resolved a different user: %d vs %d", loggedIn.ID, registered.ID)
	}
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	service, db := newTestUsersService(t)

	if _, err := service.Register(context.Background(), "bob", "s3cret-password"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := service.Register(context.Background(), "Bob", "another-password")
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	var count int64
	if err := db.Model(&User{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count users: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single user row, got %d", count)
	}
}

func TestRegisterRejectsShortInput(t *testing.T) {
	service, _ := newTestUsersService(t)

	if _, err := service.Register(context.Background(), "al", "s3cret-password"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for short username, got %v", err)
	}
	if _, err := service.Register(context.Background(), "alice", "short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for short password, got %v", err)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	service, _ := newTestUsersService(t)

	if _, err := service.Register(context.Background(), "carol", "s3cret-password"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := service.Login(context.Background(), "carol", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := service.Login(context.Background(), "nobody", "s3cret-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}
