package users

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/pastpin/pastpin/internal/auth"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ErrUnknownUser indicates no identity exists for the requested user id.
var ErrUnknownUser = errors.New("users: unknown user")

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database       *gorm.DB
	Clock          func() time.Time
	StaffUsernames []string
}

// Service manages canonical user identifiers and provider identities.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	staff map[string]struct{}
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
	staff := make(map[string]struct{}, len(cfg.StaffUsernames))
	for _, username := range cfg.StaffUsernames {
		if normalized := normalize(username); normalized != "" {
			staff[normalized] = struct{}{}
		}
	}
	return &Service{
		db:    cfg.Database,
		now:   clock,
		staff: staff,
	}, nil
}

// ResolveCanonicalUserID records the verified OSM account and returns the
// canonical PastPin user id. The mapping is created on first sight; display
// name changes on OSM propagate to the stored identity.
func (s *Service) ResolveCanonicalUserID(claims auth.OSMClaims) (string, error) {
	subject := normalize(claims.Subject)
	displayName := normalize(claims.DisplayName)
	if subject == "" || displayName == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := ProviderOSM + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if canonical, ok := cached.(string); ok && canonical == displayName {
			return canonical, nil
		}
	}

	var identity Identity
	err := s.db.
		Where("provider = ? AND subject = ?", ProviderOSM, subject).
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		identity = Identity{
			Provider:    ProviderOSM,
			Subject:     subject,
			UserID:      displayName,
			DisplayName: displayName,
			LastSeenAt:  s.now(),
		}
		if err := s.db.Create(&identity).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	} else {
		updates := map[string]interface{}{"last_seen_at": s.now()}
		if displayName != identity.DisplayName {
			updates["display_name"] = displayName
			updates["user_id"] = displayName
			identity.UserID = displayName
		}
		if err := s.db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", ProviderOSM, subject).
			Updates(updates).
			Error; err != nil {
			return "", err
		}
	}

	s.cache.Store(cacheKey, identity.UserID)
	return identity.UserID, nil
}

// Lookup returns the stored identity for a canonical user id.
func (s *Service) Lookup(userID string) (Identity, error) {
	normalized := normalize(userID)
	if normalized == "" {
		return Identity{}, ErrInvalidIdentity
	}
	var identity Identity
	err := s.db.Where("user_id = ?", normalized).First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrUnknownUser
	}
	if err != nil {
		return Identity{}, err
	}
	return identity, nil
}

// IsStaff reports whether the canonical user id belongs to a configured
// curator account.
func (s *Service) IsStaff(userID string) bool {
	_, ok := s.staff[normalize(userID)]
	return ok
}
