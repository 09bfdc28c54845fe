package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"staging-backend/accounts"
	"staging-backend/auth"
	"staging-backend/ledger"
	"staging-backend/migrations"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		log.Info().Int("statements", len(migrations.Statements())).Msg("schema up to date")
		return nil
	},
}

var (
	reconcileUser   string
	reconcileDryRun bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Rebuild consolidated_users from user_usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			run := a.reconciler.Reconcile
			if reconcileDryRun {
				run = a.reconciler.Preview
			}
			report, err := run(ctx, reconcileUser)
			if report != nil {
				if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
					return perr
				}
			}
			return err
		})
	},
}

var checkUser string

var checkSubscriptionsCmd = &cobra.Command{
	Use:   "check-subscriptions",
	Short: "Downgrade accounts whose subscription has lapsed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if checkUser != "" {
				res, err := a.checker.Check(ctx, checkUser)
				if res != nil {
					if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
						return perr
					}
				}
				return err
			}
			sweeper, err := a.sweeper()
			if err != nil {
				return err
			}
			report, err := sweeper.Sweep(ctx)
			if report != nil {
				if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
					return perr
				}
			}
			return err
		})
	},
}

var (
	grantUser    string
	grantEmail   string
	grantCredits int
	grantPlan    string
	grantSet     bool
)

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Add credits to an account, or set its limit with --set",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			req := ledger.CreditRequest{
				UserID:   grantUser,
				Email:    grantEmail,
				Credits:  grantCredits,
				PlanType: accounts.PlanType(grantPlan),
			}
			apply := a.mutator.Grant
			if grantSet {
				apply = a.mutator.SetLimit
			}
			acct, err := apply(ctx, req)
			if acct != nil {
				if perr := printJSON(cmd.OutOrStdout(), acct); perr != nil {
					return perr
				}
			}
			if err != nil {
				return err
			}
			if m := a.notifier(); m != nil && !grantSet && acct.Email != "" {
				if err := m.SendCreditsGranted(acct.Email, grantCredits, acct.PhotosLimit); err != nil {
					log.Warn().Err(err).Str("user_id", acct.UserID).Msg("credits mail failed")
				}
			}
			return nil
		})
	},
}

var resetUser string

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset an account to the free plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		if resetUser == "" {
			return errors.New("--user is required")
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			acct, err := a.transitions.AdminReset(ctx, resetUser)
			if acct != nil {
				if perr := printJSON(cmd.OutOrStdout(), acct); perr != nil {
					return perr
				}
			}
			return err
		})
	},
}

var (
	tokenUser  string
	tokenEmail string
	tokenTTL   time.Duration
)

// tokenCmd issues a session token signed with SESSION_SECRET, for local
// testing against the user routes.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a session token for a user (development)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUser == "" {
			return errors.New("--user is required")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		token, exp, err := auth.NewSigner(cfg.SessionSecret).Sign(tokenUser, tokenEmail, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		log.Info().Str("user_id", tokenUser).Time("expires_at", time.Unix(exp, 0)).Msg("token issued")
		return nil
	},
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileUser, "user", "", "reconcile a single user id")
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "report actions without writing")

	checkSubscriptionsCmd.Flags().StringVar(&checkUser, "user", "", "check a single user id")

	grantCmd.Flags().StringVar(&grantUser, "user", "", "user id")
	grantCmd.Flags().StringVar(&grantEmail, "email", "", "user email, when no id is given")
	grantCmd.Flags().IntVar(&grantCredits, "credits", 0, "credits to add, or the new limit with --set")
	grantCmd.Flags().StringVar(&grantPlan, "plan", "", "plan type to set (free, trial, standard, agency)")
	grantCmd.Flags().BoolVar(&grantSet, "set", false, "replace the limit instead of adding")
	_ = grantCmd.MarkFlagRequired("credits")

	resetCmd.Flags().StringVar(&resetUser, "user", "", "user id")

	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id (token subject)")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "user email")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
