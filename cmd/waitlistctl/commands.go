package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aurlink/waitlist/internal/auth"
	"github.com/aurlink/waitlist/internal/config"
	"github.com/aurlink/waitlist/internal/export"
	"github.com/aurlink/waitlist/internal/store"
	"github.com/aurlink/waitlist/internal/waitlist"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "waitlistctl",
		Short:         "Operate the AURLINK waitlist",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCmd(),
		newStatsCmd(),
		newLookupCmd(),
		newExportCmd(),
		newHashPasswordCmd(),
		newTokenCmd(),
	)
	return root
}

// openStore loads configuration and opens the configured store.
func openStore(ctx context.Context) (*config.Config, store.SubscriberStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.StoreDriver == config.DriverMemory {
		return nil, nil, errors.New("STORE_DRIVER is memory: nothing persistent to operate on")
	}
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, st, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", cfg.StoreDriver)
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print waitlist totals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			total, err := st.Count(ctx)
			if err != nil {
				return fmt.Errorf("counting subscribers: %w", err)
			}
			recent, err := st.CountSince(ctx, time.Now().Add(-7*24*time.Hour))
			if err != nil {
				return fmt.Errorf("counting recent subscribers: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total:       %d\nlast 7 days: %d\n", total, recent)
			return nil
		},
	}
}

func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <email>",
		Short: "Show a subscriber's position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			sub, err := st.GetByEmail(ctx, waitlist.NormalizeEmail(args[0]))
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%s is not on the waitlist", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "#%d %s invite=%s referrals=%d confirmed=%t joined=%s\n",
				sub.Position, sub.Email, sub.InviteCode, sub.ReferralCount, sub.Confirmed,
				sub.CreatedAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
}

type exportOptions struct {
	format   string
	out      string
	s3Bucket string
	s3Key    string
}

func newExportCmd() *cobra.Command {
	opts := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every subscriber in position order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.format, "format", export.FormatCSV, "csv or json")
	cmd.Flags().StringVar(&opts.out, "out", "", "write to this file instead of stdout")
	cmd.Flags().StringVar(&opts.s3Bucket, "s3-bucket", "", "upload the export to this S3 bucket")
	cmd.Flags().StringVar(&opts.s3Key, "s3-key", "", "object key (default waitlist/export-<time>.<format>)")
	return cmd
}

func runExport(cmd *cobra.Command, opts *exportOptions) error {
	format := strings.ToLower(opts.format)
	if format != export.FormatCSV && format != export.FormatJSON {
		return fmt.Errorf("unsupported format %q", opts.format)
	}

	ctx := cmd.Context()
	cfg, st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	subs, err := st.ListByPosition(ctx)
	if err != nil {
		return fmt.Errorf("listing subscribers: %w", err)
	}

	now := time.Now().UTC()
	var buf bytes.Buffer
	if err := export.Write(&buf, format, subs, now); err != nil {
		return err
	}

	if opts.s3Bucket != "" {
		uploader, err := export.NewS3Uploader(ctx, cfg.Email.SESRegion, opts.s3Bucket)
		if err != nil {
			return err
		}
		key := opts.s3Key
		if key == "" {
			key = export.DefaultKey(format, now)
		}
		uri, err := uploader.Upload(ctx, key, export.ContentType(format), buf.Bytes())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "uploaded %d subscribers to %s\n", len(subs), uri)
	}

	if opts.out != "" {
		if err := os.WriteFile(opts.out, buf.Bytes(), 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", opts.out, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d subscribers to %s\n", len(subs), opts.out)
		return nil
	}
	if opts.s3Bucket == "" {
		_, err = cmd.OutOrStdout().Write(buf.Bytes())
	}
	return err
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
		Long:  "Hashes the argument, or the first line of stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := passwordFrom(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func passwordFrom(args []string, in io.Reader) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newTokenCmd() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if subject == "" {
				subject = cfg.Admin.Username
			}
			token, expiresAt, err := auth.New(cfg.Admin).Sign(subject)
			if errors.Is(err, auth.ErrAdminDisabled) {
				return errors.New("JWT_SECRET is not set")
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (default ADMIN_USERNAME)")
	return cmd
}
