package main

import (
	"fmt"
	"time"

	"github.com/krellgit/claude-autonomy-tracker/internal/db"
	"github.com/krellgit/claude-autonomy-tracker/internal/digest"
	"github.com/spf13/cobra"
)

func newDigestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Leaderboard digest commands",
	}

	cmd.AddCommand(newDigestSendCmd())
	return cmd
}

func newDigestSendCmd() *cobra.Command {
	var (
		configPath string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Build and deliver one digest now",
		Long: `Builds the leaderboard digest and posts it to every configured destination.
With --dry-run the message is printed instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigestSend(cmd, configPath, dryRun)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the digest instead of sending it")
	return cmd
}

func runDigestSend(cmd *cobra.Command, configPath string, dryRun bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, log, st, err := openStore(ctx, configPath)
	if err != nil {
		return err
	}
	defer db.Close(st.DB())

	if dryRun {
		report, err := digest.Build(ctx, st, cfg.Digest.Limit, time.Now())
		if err != nil {
			return err
		}
		if report == nil {
			fmt.Fprintln(out, "No sessions recorded yet; nothing to send.")
			return nil
		}
		msg := digest.Format(report)
		fmt.Fprintf(out, "%s\n\n%s\n", msg.Title, msg.Body)
		return nil
	}

	notifiers, err := digest.Notifiers(cfg.Digest)
	if err != nil {
		return err
	}
	if len(notifiers) == 0 {
		return fmt.Errorf("no digest destination configured: set digest.slack_webhook_url or digest.discord_bot_token")
	}
	if err := digest.NewScheduler(st, cfg.Digest, log, notifiers...).Send(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Digest delivered to %d destination(s)\n", len(notifiers))
	return nil
}
