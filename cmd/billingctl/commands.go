package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gatekeeper/internal/bootstrap"
	"gatekeeper/internal/config"
	"gatekeeper/internal/model"
	"gatekeeper/internal/repository"
	"gatekeeper/internal/service"
	"gatekeeper/internal/util"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// operator is recorded as the actor on admin grants and revocations.
const operator = "billingctl"

type cli struct {
	cfg    *config.Config
	out    io.Writer
	open   func(ctx context.Context) (*bootstrap.Runtime, error)
	logger zerolog.Logger

	rt *bootstrap.Runtime
}

func (c *cli) runtime(ctx context.Context) (*bootstrap.Runtime, error) {
	if c.rt != nil {
		return c.rt, nil
	}
	rt, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	c.rt = rt
	return rt, nil
}

func (c *cli) close() {
	if c.rt != nil {
		c.rt.Close()
		c.rt = nil
	}
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operate the gatekeeper billing store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCmd(c),
		newPassCmd(c),
		newCreditsCmd(c),
		newExpireCmd(c),
		newSecretsCmd(c),
		newJWKSCmd(c),
	)
	return root
}

func newMigrateCmd(c *cli) *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			if rt.Pool == nil {
				return errors.New("migrate needs STORE_DRIVER=postgres")
			}
			if status {
				return repository.MigrationStatus(cmd.Context(), rt.Pool)
			}
			if err := repository.Migrate(cmd.Context(), rt.Pool); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "print migration status instead of migrating")
	return cmd
}

func newPassCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "pass", Short: "Grant or revoke passes"}

	var userID, productCode string
	grant := &cobra.Command{
		Use:   "grant",
		Short: "Grant a complimentary pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			pass, err := rt.Engine.AdminGrantPass(cmd.Context(), userID, productCode, operator)
			if err != nil {
				return err
			}
			return c.print(pass)
		},
	}
	grant.Flags().StringVar(&userID, "user", "", "user id")
	grant.Flags().StringVar(&productCode, "product", "", "product code")
	_ = grant.MarkFlagRequired("user")
	_ = grant.MarkFlagRequired("product")

	var passID string
	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Cancel a pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			pass, err := rt.Engine.RevokePass(cmd.Context(), passID, operator)
			if err != nil {
				return err
			}
			return c.print(pass)
		},
	}
	revoke.Flags().StringVar(&passID, "pass", "", "pass id")
	_ = revoke.MarkFlagRequired("pass")

	cmd.AddCommand(grant, revoke)
	return cmd
}

var grantableCredits = map[model.CreditType]bool{
	model.CreditPurchase:    true,
	model.CreditBonus:       true,
	model.CreditPromotional: true,
	model.CreditRefund:      true,
}

func newCreditsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "credits", Short: "Inspect and adjust credit balances"}

	var (
		userID     string
		amount     int64
		creditType string
		reference  string
	)
	grant := &cobra.Command{
		Use:   "grant",
		Short: "Add credits to a user's ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			ct := model.CreditType(creditType)
			if !grantableCredits[ct] {
				return fmt.Errorf("credit type %q cannot be granted", creditType)
			}
			if reference == "" {
				reference = fmt.Sprintf("%s:%s:%d", operator, userID, time.Now().UnixNano())
			}
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			entry, err := rt.Engine.Ledger.Add(cmd.Context(), userID, amount, ct, reference)
			if err != nil {
				return err
			}
			return c.print(entry)
		},
	}
	grant.Flags().StringVar(&userID, "user", "", "user id")
	grant.Flags().Int64Var(&amount, "amount", 0, "credits to add")
	grant.Flags().StringVar(&creditType, "type", string(model.CreditBonus), "purchase|bonus|promotional|refund")
	grant.Flags().StringVar(&reference, "ref", "", "idempotency reference (generated when empty)")
	_ = grant.MarkFlagRequired("user")
	_ = grant.MarkFlagRequired("amount")

	var balanceUser string
	balance := &cobra.Command{
		Use:   "balance",
		Short: "Print a user's credit balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			n, err := rt.Engine.Ledger.Balance(cmd.Context(), balanceUser)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, n)
			return nil
		},
	}
	balance.Flags().StringVar(&balanceUser, "user", "", "user id")
	_ = balance.MarkFlagRequired("user")

	cmd.AddCommand(grant, balance)
	return cmd
}

func newExpireCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Expire overdue passes once",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			n, err := rt.Engine.Reconciler.ExpirePasses(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "expired passes for %d users\n", n)
			return nil
		},
	}
}

func newSecretsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "secrets", Short: "Manage Stripe credentials in Secret Manager"}

	var name, value string
	put := &cobra.Command{
		Use:   "put",
		Short: "Store a new secret version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name != service.SecretStripeKey && name != service.SecretStripeWebhookSecret {
				return fmt.Errorf("unknown secret %q, want %s or %s", name, service.SecretStripeKey, service.SecretStripeWebhookSecret)
			}
			value = strings.TrimSpace(value)
			if value == "" {
				return errors.New("secret value is empty")
			}
			secrets, err := service.NewSecretManagerService(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer secrets.Close()
			if err := secrets.PutSecret(cmd.Context(), name, value); err != nil {
				return err
			}
			c.logger.Info().Str("secret", name).Msg("Secret version added")
			fmt.Fprintf(c.out, "stored %s\n", name)
			return nil
		},
	}
	put.Flags().StringVar(&name, "name", "", "secret name")
	put.Flags().StringVar(&value, "value", "", "secret value")
	_ = put.MarkFlagRequired("name")
	_ = put.MarkFlagRequired("value")

	cmd.AddCommand(put)
	return cmd
}

func newJWKSCmd(c *cli) *cobra.Command {
	var url, kid string
	cmd := &cobra.Command{
		Use:   "jwks-to-pem",
		Short: "Print the identity provider's signing key as PEM for JWT_PUBLIC_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("fetch JWKS: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("fetch JWKS: unexpected status %d", resp.StatusCode)
			}
			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return fmt.Errorf("read JWKS: %w", err)
			}
			out, err := util.JWKSToPEM(body, kid)
			if err != nil {
				return err
			}
			fmt.Fprint(c.out, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://127.0.0.1:54321/auth/v1/.well-known/jwks.json", "JWKS endpoint")
	cmd.Flags().StringVar(&kid, "kid", "", "key id to export (first signing key when empty)")
	return cmd
}
