package users

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/funilcrm/backend/internal/auth"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for operator identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages canonical operator identifiers and provider-specific identities.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// ResolveOperatorID returns the canonical operator id for the provided provider claims.
// It creates a new identity mapping when the provider+subject pair has not been seen before.
func (s *Service) ResolveOperatorID(claims auth.ProviderClaims) (string, error) {
	provider := deriveProvider(claims.Issuer)
	subject := normalize(claims.Subject)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if operatorID, ok := cached.(string); ok {
			return operatorID, nil
		}
	}

	var identity Identity
	err := s.db.
		Where("provider = ? AND subject = ?", provider, subject).
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			OperatorID:  subject,
			Email:       normalize(claims.Email),
			DisplayName: normalize(claims.DisplayName),
			AvatarURL:   normalize(claims.AvatarURL),
			LastSeenAt:  s.now(),
		}
		if err := s.db.Create(&identity).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	} else {
		updates := map[string]interface{}{}
		if email := normalize(claims.Email); email != "" && email != identity.Email {
			updates["email"] = email
		}
		if display := normalize(claims.DisplayName); display != "" && display != identity.DisplayName {
			updates["display_name"] = display
		}
		if avatar := normalize(claims.AvatarURL); avatar != "" && avatar != identity.AvatarURL {
			updates["avatar_url"] = avatar
		}
		updates["last_seen_at"] = s.now()
		if len(updates) > 0 {
			_ = s.db.Model(&Identity{}).
				Where("provider = ? AND subject = ?", provider, subject).
				Updates(updates).
				Error
		}
	}

	s.cache.Store(cacheKey, identity.OperatorID)
	return identity.OperatorID, nil
}

// deriveProvider reduces an issuer URL to a short provider label.
func deriveProvider(issuer string) string {
	trimmed := normalize(issuer)
	if trimmed == "" {
		return "default"
	}
	if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return trimmed
}
