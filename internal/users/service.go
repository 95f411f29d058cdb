package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// ErrMissingEmail indicates that an empty email was passed to the resolver.
var ErrMissingEmail = errors.New("users: email is required")

// IDProvider issues opaque unique identifiers for new user records.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required for identity resolution.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
}

// Service resolves email addresses to stable user identities, creating
// records lazily on first sight.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	now        func() time.Time
	cache      sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		now:        clock,
		cache:      sync.Map{},
	}, nil
}

// ResolveOrCreate returns the user record for the given email, creating one
// with a fresh identifier when the email has not been seen before. The name
// defaults to the local part of the email when absent. Malformed emails are
// not rejected here; input validation belongs to the form layer.
func (s *Service) ResolveOrCreate(ctx context.Context, email, name string) (User, error) {
	email = normalize(email)
	if email == "" {
		return User{}, ErrMissingEmail
	}

	if cached, ok := s.cache.Load(email); ok {
		if user, ok := cached.(User); ok {
			return user, nil
		}
	}

	var user User
	err := s.db.WithContext(ctx).
		Where("email = ?", email).
		First(&user).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		id, idErr := s.idProvider.NewID()
		if idErr != nil {
			return User{}, idErr
		}
		displayName := normalize(name)
		if displayName == "" {
			displayName = localPart(email)
		}
		user = User{
			ID:        id,
			Email:     email,
			Name:      displayName,
			CreatedAt: s.now().UTC(),
		}
		if createErr := s.db.WithContext(ctx).Create(&user).Error; createErr != nil {
			// A concurrent resolver may have created the record first; the
			// unique email index makes the store the serialization point.
			var existing User
			if lookupErr := s.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error; lookupErr == nil {
				user = existing
			} else {
				return User{}, createErr
			}
		}
	} else if err != nil {
		return User{}, err
	}

	s.cache.Store(email, user)
	return user, nil
}

// ResolveAnonymous returns the shared placeholder identity used for votes
// submitted without an email address.
func (s *Service) ResolveAnonymous(ctx context.Context) (User, error) {
	return s.ResolveOrCreate(ctx, AnonymousEmail, AnonymousName)
}

// GetByEmail looks up an existing user without creating one.
func (s *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	email = normalize(email)
	if email == "" {
		return User{}, ErrMissingEmail
	}
	var user User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return User{}, err
	}
	return user, nil
}
