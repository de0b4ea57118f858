package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	creditv1 "github.com/MarkoPoloResearchLab/auctioncredits/api/credit/v1"
	"github.com/MarkoPoloResearchLab/auctioncredits/internal/creditclient"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagServerAddr     = "addr"
	flagServerInsecure = "insecure"
	flagRequestTimeout = "timeout"
	flagDescription    = "description"
	flagExpiresInDays  = "expires-in-days"
	flagUpdatedBy      = "updated-by"
	configKeyAddr      = "credit_addr"
	configKeyInsecure  = "credit_insecure"
	configKeyTimeout   = "credit_timeout"
	defaultServerAddr  = "localhost:7000"
)

type clientConfig struct {
	Address  string
	Insecure bool
	Timeout  time.Duration
}

// addClientFlags registers the connection flags shared by every client subcommand.
func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagServerAddr, defaultServerAddr, "creditd gRPC address")
	cmd.Flags().Bool(flagServerInsecure, true, "connect without TLS")
	cmd.Flags().Duration(flagRequestTimeout, 5*time.Second, "request timeout")
}

func loadClientConfig(cmd *cobra.Command) (clientConfig, error) {
	v := viper.New()
	bindings := map[string][2]string{
		configKeyAddr:     {"CREDIT_ADDR", flagServerAddr},
		configKeyInsecure: {"CREDIT_INSECURE", flagServerInsecure},
		configKeyTimeout:  {"CREDIT_TIMEOUT", flagRequestTimeout},
	}
	for key, binding := range bindings {
		if err := v.BindEnv(key, binding[0]); err != nil {
			return clientConfig{}, err
		}
		if err := v.BindPFlag(key, cmd.Flags().Lookup(binding[1])); err != nil {
			return clientConfig{}, err
		}
	}
	return clientConfig{
		Address:  v.GetString(configKeyAddr),
		Insecure: v.GetBool(configKeyInsecure),
		Timeout:  v.GetDuration(configKeyTimeout),
	}, nil
}

// withClient dials creditd, runs fn under the request timeout, and prints its result as JSON.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, client creditv1.CreditServiceClient) (any, error)) error {
	cfg, err := loadClientConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
	defer cancel()
	client, err := creditclient.Dial(ctx, creditclient.Config{Address: cfg.Address, Insecure: cfg.Insecure, DialTimeout: cfg.Timeout})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	result, err := fn(ctx, client)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func printJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func newGrantCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant <user-id> <amount>",
		Short: "Grant credits to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			description, _ := cmd.Flags().GetString(flagDescription)
			expiresInDays, _ := cmd.Flags().GetInt32(flagExpiresInDays)
			return withClient(cmd, func(ctx context.Context, client creditv1.CreditServiceClient) (any, error) {
				return client.Grant(ctx, &creditv1.GrantRequest{
					UserId:        args[0],
					Amount:        amount,
					Description:   description,
					ExpiresInDays: expiresInDays,
				})
			})
		},
	}
	addClientFlags(cmd)
	cmd.Flags().String(flagDescription, "Admin grant", "transaction description")
	cmd.Flags().Int32(flagExpiresInDays, 0, "days until the granted batch expires (0 never)")
	return cmd
}

func newBalanceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Show a user's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, client creditv1.CreditServiceClient) (any, error) {
				return client.GetBalance(ctx, &creditv1.BalanceRequest{UserId: args[0]})
			})
		},
	}
	addClientFlags(cmd)
	return cmd
}

func newSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show cost settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, client creditv1.CreditServiceClient) (any, error) {
				return client.GetSettings(ctx, &creditv1.GetSettingsRequest{})
			})
		},
	}
	addClientFlags(cmd)

	setCmd := &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Update a cost setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("value: %w", err)
			}
			updatedBy, _ := cmd.Flags().GetString(flagUpdatedBy)
			return withClient(cmd, func(ctx context.Context, client creditv1.CreditServiceClient) (any, error) {
				return client.UpdateSetting(ctx, &creditv1.UpdateSettingRequest{Name: args[0], Value: value, UpdatedBy: updatedBy})
			})
		},
	}
	addClientFlags(setCmd)
	setCmd.Flags().String(flagUpdatedBy, "creditd-cli", "recorded as the updater")
	cmd.AddCommand(setCmd)
	return cmd
}
