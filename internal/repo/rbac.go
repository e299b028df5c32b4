package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/berntpopp/gene-curator-sub000/internal/domain"
)

const userColumns = `id,name,COALESCE(email,''),active,admin,created_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Active, &u.Admin, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

// UpsertUser inserts the user or updates name, email and flags in place.
func (r Repo) UpsertUser(ctx context.Context, u domain.User) error {
	_, err := r.exec(ctx, r.DB, `INSERT INTO users(id,name,email,active,admin,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, email=excluded.email, active=excluded.active, admin=excluded.admin`,
		u.ID, u.Name, nullable(u.Email), u.Active, u.Admin, u.CreatedAt)
	return err
}

// GetUser resolves an actor; ErrNotFound when absent.
func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.queryRow(ctx, r.DB, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) ListUsers(ctx context.Context, activeOnly bool) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	if activeOnly {
		query += ` WHERE active=?`
	}
	query += ` ORDER BY name, id`
	var args []any
	if activeOnly {
		args = append(args, true)
	}
	rows, err := r.query(ctx, r.DB, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GrantScopeRole sets the single role a user holds in a scope.
func (r Repo) GrantScopeRole(ctx context.Context, scopeID, userID string, role domain.Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	_, err := r.exec(ctx, r.DB, `INSERT INTO scope_members(scope_id,user_id,role) VALUES (?,?,?)
ON CONFLICT(scope_id,user_id) DO UPDATE SET role=excluded.role`, scopeID, userID, string(role))
	return err
}

func (r Repo) RevokeScopeRole(ctx context.Context, scopeID, userID string) error {
	res, err := r.exec(ctx, r.DB, `DELETE FROM scope_members WHERE scope_id=? AND user_id=?`, scopeID, userID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ScopeRole returns the role of userID in scopeID; ok is false for non-members.
func (r Repo) ScopeRole(ctx context.Context, scopeID, userID string) (domain.Role, bool, error) {
	var role string
	err := r.queryRow(ctx, r.DB, `SELECT role FROM scope_members WHERE scope_id=? AND user_id=?`, scopeID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return domain.Role(role), true, nil
}

func (r Repo) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var admin bool
	err := r.queryRow(ctx, r.DB, `SELECT admin FROM users WHERE id=? AND active=?`, userID, true).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return admin, err
}

func (r Repo) ListScopeMembers(ctx context.Context, scopeID string) ([]domain.ScopeMember, error) {
	rows, err := r.query(ctx, r.DB, `SELECT scope_id,user_id,role FROM scope_members WHERE scope_id=? ORDER BY user_id`, scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []domain.ScopeMember
	for rows.Next() {
		var m domain.ScopeMember
		var role string
		if err := rows.Scan(&m.ScopeID, &m.UserID, &role); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListUserScopes returns every scope membership of userID.
func (r Repo) ListUserScopes(ctx context.Context, userID string) ([]domain.ScopeMember, error) {
	rows, err := r.query(ctx, r.DB, `SELECT scope_id,user_id,role FROM scope_members WHERE user_id=? ORDER BY scope_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []domain.ScopeMember
	for rows.Next() {
		var m domain.ScopeMember
		var role string
		if err := rows.Scan(&m.ScopeID, &m.UserID, &role); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		members = append(members, m)
	}
	return members, rows.Err()
}
