package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/berntpopp/gene-curator-sub000/internal/domain"
	"github.com/berntpopp/gene-curator-sub000/internal/repo"
)

// ForbiddenError indicates a missing scope role.
type ForbiddenError struct {
	Scope string
	Role  domain.Role
}

func (e ForbiddenError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("no role in scope %s", e.Scope)
	}
	return fmt.Sprintf("role %s in scope %s is not permitted", e.Role, e.Scope)
}

// Service answers permission questions from the users and scope_members tables.
type Service struct {
	Repo repo.Repo
}

func (s Service) UserRoleInScope(ctx context.Context, userID, scopeID string) (domain.Role, bool, error) {
	return s.Repo.ScopeRole(ctx, scopeID, userID)
}

func (s Service) IsApplicationAdmin(ctx context.Context, userID string) (bool, error) {
	return s.Repo.IsAdmin(ctx, userID)
}

// Oracle is the lookup surface CachedOracle wraps.
type Oracle interface {
	UserRoleInScope(ctx context.Context, userID, scopeID string) (domain.Role, bool, error)
	IsApplicationAdmin(ctx context.Context, userID string) (bool, error)
}

type roleEntry struct {
	role domain.Role
	ok   bool
}

// CachedOracle memoizes role and admin lookups for a fixed TTL. Errors are
// not cached.
type CachedOracle struct {
	next  Oracle
	cache *cache.Cache
}

func NewCachedOracle(next Oracle, ttl time.Duration) *CachedOracle {
	return &CachedOracle{
		next:  next,
		cache: cache.New(ttl, ttl*2),
	}
}

func (c *CachedOracle) UserRoleInScope(ctx context.Context, userID, scopeID string) (domain.Role, bool, error) {
	key := "role:" + scopeID + ":" + userID
	if v, found := c.cache.Get(key); found {
		e := v.(roleEntry)
		return e.role, e.ok, nil
	}
	role, ok, err := c.next.UserRoleInScope(ctx, userID, scopeID)
	if err != nil {
		return "", false, err
	}
	c.cache.Set(key, roleEntry{role: role, ok: ok}, cache.DefaultExpiration)
	return role, ok, nil
}

func (c *CachedOracle) IsApplicationAdmin(ctx context.Context, userID string) (bool, error) {
	key := "admin:" + userID
	if v, found := c.cache.Get(key); found {
		return v.(bool), nil
	}
	admin, err := c.next.IsApplicationAdmin(ctx, userID)
	if err != nil {
		return false, err
	}
	c.cache.Set(key, admin, cache.DefaultExpiration)
	return admin, nil
}

// Invalidate drops cached answers for a user, e.g. after a role grant.
func (c *CachedOracle) Invalidate(userID string) {
	for key := range c.cache.Items() {
		if key == "admin:"+userID || (strings.HasPrefix(key, "role:") && strings.HasSuffix(key, ":"+userID)) {
			c.cache.Delete(key)
		}
	}
}

// Flush drops every cached answer.
func (c *CachedOracle) Flush() {
	c.cache.Flush()
}
