package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/berntpopp/gene-curator-sub000/internal/domain"
)

type countingOracle struct {
	roles     map[string]domain.Role
	admins    map[string]bool
	roleCalls int
	adminErr  error
}

func (o *countingOracle) UserRoleInScope(ctx context.Context, userID, scopeID string) (domain.Role, bool, error) {
	o.roleCalls++
	role, ok := o.roles[scopeID+"/"+userID]
	return role, ok, nil
}

func (o *countingOracle) IsApplicationAdmin(ctx context.Context, userID string) (bool, error) {
	if o.adminErr != nil {
		return false, o.adminErr
	}
	return o.admins[userID], nil
}

func TestCachedOracleMemoizesAndInvalidates(t *testing.T) {
	next := &countingOracle{roles: map[string]domain.Role{"s1/alice": domain.RoleCurator}}
	c := NewCachedOracle(next, time.Minute)
	defer c.Flush()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		role, ok, err := c.UserRoleInScope(ctx, "alice", "s1")
		if err != nil || !ok || role != domain.RoleCurator {
			t.Fatalf("role = %q %v %v", role, ok, err)
		}
	}
	if next.roleCalls != 1 {
		t.Fatalf("expected 1 backend call, got %d", next.roleCalls)
	}

	// negative answers are cached too
	if _, ok, _ := c.UserRoleInScope(ctx, "bob", "s1"); ok {
		t.Fatalf("bob should not be a member")
	}
	next.roles["s1/bob"] = domain.RoleReviewer
	if _, ok, _ := c.UserRoleInScope(ctx, "bob", "s1"); ok {
		t.Fatalf("expected cached non-membership for bob")
	}

	c.Invalidate("bob")
	role, ok, _ := c.UserRoleInScope(ctx, "bob", "s1")
	if !ok || role != domain.RoleReviewer {
		t.Fatalf("after invalidate role = %q %v", role, ok)
	}
	calls := next.roleCalls
	_, _, _ = c.UserRoleInScope(ctx, "alice", "s1")
	if next.roleCalls != calls {
		t.Fatalf("invalidating bob dropped alice's entry")
	}
}

func TestCachedOracleDoesNotCacheErrors(t *testing.T) {
	next := &countingOracle{admins: map[string]bool{"root": true}, adminErr: errors.New("db down")}
	c := NewCachedOracle(next, time.Minute)
	defer c.Flush()
	ctx := context.Background()

	if _, err := c.IsApplicationAdmin(ctx, "root"); err == nil {
		t.Fatalf("expected backend error")
	}
	next.adminErr = nil
	admin, err := c.IsApplicationAdmin(ctx, "root")
	if err != nil || !admin {
		t.Fatalf("admin = %v %v", admin, err)
	}
}

func TestForbiddenErrorMessage(t *testing.T) {
	if got := (ForbiddenError{Scope: "s1"}).Error(); got != "no role in scope s1" {
		t.Fatalf("got %q", got)
	}
	if got := (ForbiddenError{Scope: "s1", Role: domain.RoleViewer}).Error(); got != "role viewer in scope s1 is not permitted" {
		t.Fatalf("got %q", got)
	}
}
