package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/berntpopp/gene-curator-sub000/internal/app"
	"github.com/berntpopp/gene-curator-sub000/internal/domain"
)

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	u.AddCommand(userAddCmd())
	u.AddCommand(userListCmd())
	return u
}

func userAddCmd() *cobra.Command {
	var user domain.User
	var inactive bool
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Create or update a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				user.ID = args[0]
				user.Active = !inactive
				user.CreatedAt = time.Now().UTC().Format(time.RFC3339)
				if existing, err := rt.Engine.Repo.GetUser(ctx, user.ID); err == nil {
					user.CreatedAt = existing.CreatedAt
				}
				if err := rt.Engine.Repo.UpsertUser(ctx, user); err != nil {
					return err
				}
				return printJSONOrTable(user)
			})
		},
	}
	cmd.Flags().StringVar(&user.Name, "name", "", "display name")
	cmd.Flags().StringVar(&user.Email, "email", "", "email")
	cmd.Flags().BoolVar(&user.Admin, "admin", false, "application admin")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "mark the user inactive")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func userListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				users, err := rt.Engine.Repo.ListUsers(ctx, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable("ID", "Name", "Email", "Active", "Admin")
				for _, u := range users {
					tw.AppendRow([]any{u.ID, u.Name, u.Email, u.Active, u.Admin})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active users")
	return cmd
}

func scopeCmd() *cobra.Command {
	s := &cobra.Command{Use: "scope", Short: "Manage scope membership"}
	s.AddCommand(scopeGrantCmd())
	s.AddCommand(scopeRevokeCmd())
	s.AddCommand(scopeMembersCmd())
	return s
}

func scopeGrantCmd() *cobra.Command {
	var scope, user, role string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Give a user a role in a scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if _, err := rt.Engine.Repo.GetUser(ctx, user); err != nil {
					return fmt.Errorf("user %s: %w", user, err)
				}
				if err := rt.Engine.Repo.GrantScopeRole(ctx, scope, user, r); err != nil {
					return err
				}
				fmt.Printf("granted %s to %s in %s\n", r, user, scope)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "scope id")
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "", "viewer, curator, reviewer, scope_admin or admin")
	_ = cmd.MarkFlagRequired("scope")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func scopeRevokeCmd() *cobra.Command {
	var scope, user string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Remove a user from a scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.Repo.RevokeScopeRole(ctx, scope, user); err != nil {
					return err
				}
				fmt.Printf("revoked %s from %s\n", user, scope)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "scope id")
	cmd.Flags().StringVar(&user, "user", "", "user id")
	_ = cmd.MarkFlagRequired("scope")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func scopeMembersCmd() *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "members",
		Short: "List scope members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				members, err := rt.Engine.Repo.ListScopeMembers(ctx, scope)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(members)
				}
				tw := newTable("User", "Role")
				for _, m := range members {
					tw.AppendRow([]any{m.UserID, m.Role})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "scope id")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}
