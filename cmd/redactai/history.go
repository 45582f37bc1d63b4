package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/redactai/redactai/internal/audit"
)

var (
	historyUser  string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List a user's recorded scans, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyUser == "" {
			return errors.New("--user is required")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := audit.Open(audit.Config{Path: cfg.Audit.Path, LogLevel: "silent"})
		if err != nil {
			return err
		}
		defer store.Close()

		limit := historyLimit
		if limit <= 0 {
			limit = cfg.Audit.HistoryLimit
		}
		recs, err := store.History(cmd.Context(), historyUser, limit)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "CREATED\tDECISION\tSCORE\tACTION\tPLATFORM\tTYPES\tID")
		for i := range recs {
			r := &recs[i]
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%v\t%s\n",
				r.CreatedAt.UTC().Format(time.RFC3339), r.Decision, r.OverallScore, r.UserAction, r.Platform, r.DetectionTags(), r.ID)
		}
		return tw.Flush()
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyUser, "user", "", "User id to list")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "Maximum records (default from config)")
	rootCmd.AddCommand(historyCmd)
}
