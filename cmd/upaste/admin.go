package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"
	"upaste/cfg"
	"upaste/pkg/kms"
	"upaste/svc/db"
	"upaste/svc/svc"
	"upaste/svc/util"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Maintenance commands",
	}
	cmd.AddCommand(cleanBeforeCmd())
	cmd.AddCommand(sweepCmd())
	cmd.AddCommand(migrateCmd())
	cmd.AddCommand(wrapKeyCmd())
	return cmd
}

func openStore(c *cfg.Cfg) (*db.SQLite, error) {
	s, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", c.DatabasePath)
	}
	return s, nil
}

// cutoffFrom turns --date or --days into a cutoff instant. Exactly one of
// them must be given.
func cutoffFrom(date string, days int, now time.Time) (time.Time, error) {
	switch {
	case date != "" && days > 0:
		return time.Time{}, errors.New("--date and --days are mutually exclusive")
	case date != "":
		t, err := time.ParseInLocation(dateLayout, date, time.UTC)
		if err != nil {
			return time.Time{}, errors.Errorf("--date must look like %s", dateLayout)
		}
		return t, nil
	case days > 0:
		return now.AddDate(0, 0, -days), nil
	default:
		return time.Time{}, errors.New("one of --date or --days is required")
	}
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func cleanBeforeCmd() *cobra.Command {
	var (
		date      string
		days      int
		noConfirm bool
	)
	cmd := &cobra.Command{
		Use:   "clean-before",
		Short: "Delete pastes not viewed since a cutoff, plus expired ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			cutoff, err := cutoffFrom(date, days, now)
			if err != nil {
				return err
			}
			c, err := cfg.Load()
			if err != nil {
				return err
			}
			store, err := openStore(c)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			n, err := store.CountOutdated(ctx, cutoff, now)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d pastes last viewed before %s or expired\n", n, cutoff.UTC().Format(time.RFC3339))
			if n == 0 {
				return nil
			}
			if !noConfirm && !confirm(cmd.InOrStdin(), out, "Delete them?") {
				fmt.Fprintln(out, "aborted")
				return nil
			}
			deleted, err := store.DeleteOutdated(ctx, cutoff, now)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "deleted %d pastes\n", deleted)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "cutoff date (YYYY-MM-DD, UTC)")
	cmd.Flags().IntVar(&days, "days", 0, "cutoff as a number of days before now")
	cmd.Flags().BoolVar(&noConfirm, "no-confirm", false, "skip the confirmation prompt")
	return cmd
}

// sweepCmd runs one expiry sweep with the server's MAX_PASTE_AGE_SECONDS.
func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run a single expiry sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.Load()
			if err != nil {
				return err
			}
			util.InitLog(c.LogLevel, c.Environment == "development")
			store, err := openStore(c)
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := svc.NewSweeper(store, time.Minute, c.MaxPasteAge, util.SystemClock{}).SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "swept %d pastes\n", n)
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.Load()
			if err != nil {
				return err
			}
			store, err := openStore(c)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready at %s\n", c.DatabasePath)
			return nil
		},
	}
}

// wrapKeyCmd reads a signing key on stdin and prints the value for
// SIGNING_KEY_CIPHERTEXT.
func wrapKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wrap-key",
		Short: "Encrypt a signing key with the configured KMS",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 4096))
			if err != nil {
				return errors.Wrap(err, "read stdin")
			}
			key := bytes.TrimSpace(raw)
			defer util.Wipe(raw)
			a, err := kms.NewAdapter(cmd.Context())
			if err != nil {
				return err
			}
			wrapped, err := kms.WrapSigningKey(cmd.Context(), a, key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), wrapped)
			return nil
		},
	}
}
