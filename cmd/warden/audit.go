package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/warden/internal/security"
)

var (
	auditLimit  int
	auditAction string
	auditJSON   bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List audit records, newest first",
	Args:  cobra.NoArgs,
	RunE:  runAudit,
}

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", security.DefaultAuditQueryLimit, "maximum records to show (max 1000)")
	auditCmd.Flags().StringVar(&auditAction, "action", "", "only show records for this action")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "print records as JSON")
}

func runAudit(_ *cobra.Command, _ []string) error {
	logger := newLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}
	ctx := context.Background()
	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	records, err := sc.Audit.Query(ctx, security.AuditQuery{Limit: auditLimit, Action: auditAction})
	if err != nil {
		return fmt.Errorf("querying audit log: %w", err)
	}
	if auditJSON {
		return printJSON(os.Stdout, records)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tSTATUS\tCALLER\tLOG ID\tERROR")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Timestamp.Local().Format(time.DateTime), r.Action, r.Status, r.Caller, r.LogID, r.Error)
	}
	return w.Flush()
}
