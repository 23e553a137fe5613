package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"iapkeeper/internal/adminauth"
	"iapkeeper/internal/config"
	"iapkeeper/internal/localstore"
	"iapkeeper/internal/models"
	"iapkeeper/internal/vault"
)

var (
	colorActive   = color.New(color.FgGreen).SprintFunc()
	colorInactive = color.New(color.FgRed).SprintFunc()
	colorHeader   = color.New(color.Bold).SprintFunc()
)

type options struct {
	configPath string
	now        func() time.Time
}

func newRootCmd() *cobra.Command {
	opts := &options{now: time.Now}
	root := &cobra.Command{
		Use:           "iapctl",
		Short:         "Inspect the persisted in-app purchase snapshot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("IAP_CONFIG"), "path to the iapd YAML config")
	root.AddCommand(
		newOwnedCmd(opts),
		newSubscriptionsCmd(opts),
		newResetCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

// openSnapshot loads the config and opens the vault it names.
func openSnapshot(ctx context.Context, opts *options) (*localstore.Manager, func() error, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	v, closeFn, err := vault.Open(ctx, cfg.Vault)
	if err != nil {
		return nil, nil, fmt.Errorf("open vault: %w", err)
	}
	m := localstore.New(v, cfg.Namespace, log.WithField("component", "localstore")).WithClock(opts.now)
	return m, closeFn, nil
}

func newOwnedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "owned",
		Short: "List persisted purchased product ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeFn, err := openSnapshot(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFn()

			ids := m.PurchasedProductIDs(cmd.Context())
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no purchases recorded")
				return nil
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newSubscriptionsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "subscriptions",
		Short: "Show persisted subscription snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeFn, err := openSnapshot(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFn()

			data := m.SubscriptionData(cmd.Context())
			printSubscriptions(cmd.OutOrStdout(), data, opts.now())
			return nil
		},
	}
}

func printSubscriptions(w io.Writer, data models.StoredSubscriptionData, now time.Time) {
	if len(data.Subscriptions) == 0 {
		fmt.Fprintln(w, "no subscriptions recorded")
		return
	}
	ids := make([]string, 0, len(data.Subscriptions))
	for id := range data.Subscriptions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, colorHeader("PRODUCT\tSTATUS\tEXPIRES\tGROUP"))
	for _, id := range ids {
		info := data.Subscriptions[id]
		status := info.Status(now)
		label := colorInactive(string(status))
		if info.IsLive(now) {
			label = colorActive(string(status))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, label, humanize.RelTime(info.ExpirationDate, now, "ago", "from now"), info.SubscriptionGroupID)
	}
	tw.Flush()
	if !data.LastUpdated.IsZero() {
		fmt.Fprintf(w, "last updated %s\n", humanize.RelTime(data.LastUpdated, now, "ago", "from now"))
	}
}

func newResetCmd(opts *options) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the persisted snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset without --yes")
			}
			m, closeFn, err := openSnapshot(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := m.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "snapshot cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func newTokenCmd(opts *options) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token for the iapd admin routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cfg.Server.AdminSecret == "" {
				return fmt.Errorf("server.admin_secret is not configured")
			}
			token, err := adminauth.Sign([]byte(cfg.Server.AdminSecret), subject, ttl, opts.now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
