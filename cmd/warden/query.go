package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jkaninda/warden/internal/action"
)

var (
	queryToken      string
	querySkipBackup bool
	queryCaller     string
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Parse a free-text request and run it through the engine",
	Long: `Parse a free-text request into an action with the configured intent
provider, then authorize and execute it. Unparsable requests show help.

Examples:
  warden query "list my running servers"
  warden query "delete volume vol-1" --token 3F2A...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryToken, "token", "", "confirmation token from a previous run")
	queryCmd.Flags().BoolVar(&querySkipBackup, "skip-backup-check", false, "bypass the recent-backup requirement")
	queryCmd.Flags().StringVar(&queryCaller, "caller", "", "caller identity recorded in the audit log (or WARDEN_CALLER env)")
}

func runQuery(_ *cobra.Command, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return fmt.Errorf("no query provided")
	}

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

	in := sc.Parser.Parse(ctx, text)
	out := sc.Engine.AuthorizeAndExecute(ctx, &action.Request{
		Action:            in.Action,
		Parameters:        in.Parameters,
		Caller:            resolveCaller(queryCaller),
		Query:             text,
		ConfirmationToken: queryToken,
		SkipBackupCheck:   querySkipBackup,
	})

	hint := fmt.Sprintf("warden query %q --token %s", text, out.Token)
	if querySkipBackup {
		hint += " --skip-backup-check"
	}
	return finish(sc, out, hint)
}
