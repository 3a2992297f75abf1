package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Portunus/gateway/internal/db"
	sqlitestore "github.com/BrandonDHaskell/Portunus/gateway/internal/portunus/store/sqlite"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the most recent access decisions from the local audit log.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := root.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			switch {
			case limit < 0:
				return fmt.Errorf("--limit must not be negative, got %d", limit)
			case limit == 0:
				limit = cfg.HistoryDefaultLimit
			}

			conn, err := db.OpenExisting(cmd.Context(), db.Config{Path: cfg.DBPath})
			if err != nil {
				return fmt.Errorf("open audit db: %w", err)
			}
			defer conn.Close()

			writer := db.NewWorker(conn)
			defer writer.Close()

			recs, err := sqlitestore.NewAuditLog(conn, writer).Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if root.json {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDECIDED AT\tCREDENTIAL\tDOOR\tDEVICE\tAUTHORIZED")
			for _, r := range recs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\n",
					r.ID, r.DecidedAt.Format(time.RFC3339), r.CredentialID, r.DoorID, r.DeviceID, r.Authorized)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of records (default: history_default_limit)")
	return cmd
}
