package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantrouter/internal/provision"
	"github.com/kiranshivaraju/tenantrouter/pkg/models"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

const (
	apiKeyPrefix  = "tr_"
	apiKeyEntropy = 24
)

func newRootCommand(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:          "tenantctl",
		Short:        "Administer tenantrouter tenants",
		SilenceUsage: true,
	}
	root.AddCommand(
		newMigrateCommand(e),
		newProvisionCommand(e),
		newSetActiveCommand(e, "activate", true),
		newSetActiveCommand(e, "deactivate", false),
		newListCommand(e),
		newKeysCommand(e),
	)
	return root
}

// withBackend opens a backend for the duration of fn.
func withBackend(cmd *cobra.Command, e *env, fn func(ctx context.Context, b *backend) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	b, cleanup, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(ctx, b)
}

func newMigrateCommand(e *env) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply master schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.migrate(dir); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "migrations", "Directory holding the migration files.")
	return cmd
}

func newProvisionCommand(e *env) *cobra.Command {
	var req provision.Request
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create a tenant with its schema and seed data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, e, func(ctx context.Context, b *backend) error {
				res, err := b.service.Provision(ctx, req)
				if err != nil {
					return err
				}
				if asJSON {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tenant %s provisioned (schema %s, domain %s)\n",
					res.Identifier, res.Schema, res.Domain)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Display name of the tenant.")
	cmd.Flags().StringVar(&req.Domain, "domain", "", "Primary domain; its leftmost label becomes the identifier.")
	cmd.Flags().StringVar(&req.ContactEmail, "email", "", "Contact email.")
	cmd.Flags().StringVar(&req.Plan, "plan", models.PlanFree, "Plan: free, pro or enterprise.")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON.")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("domain")
	return cmd
}

func newSetActiveCommand(e *env, use string, active bool) *cobra.Command {
	short := "Deactivate a tenant; its data is kept"
	if active {
		short = "Reactivate a deactivated tenant"
	}
	return &cobra.Command{
		Use:   use + " <identifier>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, e, func(ctx context.Context, b *backend) error {
				var err error
				if active {
					err = b.service.Activate(ctx, args[0])
				} else {
					err = b.service.Deactivate(ctx, args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tenant %s %sd\n", args[0], use)
				return nil
			})
		},
	}
}

func newListCommand(e *env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, e, func(ctx context.Context, b *backend) error {
				tenants, err := b.directory.List(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(tenants)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "IDENTIFIER\tNAME\tSCHEMA\tPLAN\tACTIVE")
				for _, t := range tenants {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", t.Identifier, t.Name, t.Schema, t.Plan, t.Active)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print tenants as JSON.")
	return cmd
}

func newKeysCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage admin API keys",
	}

	var name string
	var scopes []string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the raw key is printed once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := generateKey()
			if err != nil {
				return err
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash key: %w", err)
			}
			now := time.Now().UTC()
			key := &models.APIKey{
				ID:        uuid.New(),
				Name:      name,
				KeyHash:   string(hash),
				KeyPrefix: raw[:8],
				Scopes:    scopes,
				CreatedAt: now,
				UpdatedAt: now,
			}
			return withBackend(cmd, e, func(ctx context.Context, b *backend) error {
				if err := b.store.CreateAPIKey(ctx, key); err != nil {
					return fmt.Errorf("create key: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "key %s (%s) scopes=%s\n%s\n",
					key.ID, key.Name, strings.Join(key.Scopes, ","), raw)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "Key name.")
	create.Flags().StringSliceVar(&scopes, "scope", []string{"admin"}, "Scopes granted to the key.")
	_ = create.MarkFlagRequired("name")

	cmd.AddCommand(create)
	return cmd
}

func generateKey() (string, error) {
	b := make([]byte, apiKeyEntropy)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(b), nil
}
