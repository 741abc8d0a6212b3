package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/buildforge/buildforge/modules/requests/infrastructure/persistence"
	"github.com/buildforge/buildforge/modules/requests/domain/request"
	"github.com/buildforge/buildforge/pkg/authz"
	"github.com/buildforge/buildforge/pkg/composables"
	"github.com/buildforge/buildforge/pkg/configuration"
)

// reqadm is the operator's escape hatch: direct reads, hard deletes and
// policy grants, without going through the HTTP surface.
func main() {
	root := &cobra.Command{
		Use:           "reqadm",
		Short:         "administrative tooling for the request workflow",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(showCmd(), deleteCmd(), nextNumberCmd(), grantCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "reqadm:", err)
		os.Exit(1)
	}
}

func withPool(ctx context.Context) (context.Context, *pgxpool.Pool, error) {
	conf := configuration.Use()
	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		return nil, nil, err
	}
	return composables.WithPool(ctx, pool), pool, nil
}

func parseNumber(arg string) (int64, error) {
	number, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("request number must be numeric, got %q", arg)
	}
	return number, nil
}

func printRequest(req *request.Request) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(req)
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <number>",
		Short: "print one request as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			ctx, pool, err := withPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			req, err := persistence.NewRequestRepository().GetByNumber(ctx, number)
			if err != nil {
				return err
			}
			return printRequest(req)
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <number>",
		Short: "hard-delete a request, printing its final state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			ctx, pool, err := withPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := persistence.NewRequestRepository()
			var snapshot *request.Request
			if err := composables.InTx(ctx, func(txCtx context.Context) error {
				snapshot, err = repo.Delete(txCtx, number)
				return err
			}); err != nil {
				return err
			}
			return printRequest(snapshot)
		},
	}
}

func nextNumberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next-number",
		Short: "print the number the next created request will receive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, pool, err := withPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			var last int64
			var called bool
			if err := pool.QueryRow(ctx, `SELECT last_value, is_called FROM request_numbers`).Scan(&last, &called); err != nil {
				return err
			}
			next := last
			if called {
				next++
			}
			fmt.Println(next)
			return nil
		},
	}
}

func grantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant <subject> <object> <action>",
		Short: "append one access policy rule, e.g. grant user:alice requests.project:core maintain",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := configuration.Use()
			svc, err := authz.NewService(authz.Config{
				ModelPath:  conf.Authz.ModelPath,
				PolicyPath: conf.Authz.PolicyPath,
				Logger:     conf.Logger(),
			})
			if err != nil {
				return err
			}
			return svc.AddPolicy(args[0], authz.DomainGlobal, args[1], authz.NormalizeAction(args[2]))
		},
	}
}
