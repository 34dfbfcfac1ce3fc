package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/warden/internal/action"
)

var (
	execParams     []string
	execToken      string
	execSkipBackup bool
	execCaller     string
)

var execCmd = &cobra.Command{
	Use:   "exec <action>",
	Short: "Run one action through the authorization engine",
	Long: `Run a structured action through the same guards as the HTTP API.

High-risk actions print a confirmation token and exit with code 3; re-run the
same command with --token to execute.

Examples:
  warden exec list_instances
  warden exec stop_instance --param instance_id=i-0abc
  warden exec delete_volume --param volume_id=vol-1 --token 3F2A...

Exit codes:
  0  executed
  1  backend or internal failure
  2  blocked (validation, budget, backup, precondition, token)
  3  confirmation required`,
	Args: cobra.ExactArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringArrayVarP(&execParams, "param", "p", nil, "action parameter as key=value (repeatable)")
	execCmd.Flags().StringVar(&execToken, "token", "", "confirmation token from a previous run")
	execCmd.Flags().BoolVar(&execSkipBackup, "skip-backup-check", false, "bypass the recent-backup requirement")
	execCmd.Flags().StringVar(&execCaller, "caller", "", "caller identity recorded in the audit log (or WARDEN_CALLER env)")
}

func runExec(_ *cobra.Command, args []string) error {
	params, err := parseParams(execParams)
	if err != nil {
		return err
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

	out := sc.Engine.AuthorizeAndExecute(ctx, &action.Request{
		Action:            args[0],
		Parameters:        params,
		Caller:            resolveCaller(execCaller),
		ConfirmationToken: execToken,
		SkipBackupCheck:   execSkipBackup,
	})
	return finish(sc, out, execHint(args[0], execParams, out.Token, execSkipBackup))
}

// parseParams turns key=value pairs into action parameters. Values stay
// strings; handlers coerce numbers and booleans.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

func resolveCaller(flag string) string {
	if flag != "" {
		return flag
	}
	return goutils.Env("WARDEN_CALLER", "cli")
}

func execHint(name string, pairs []string, token string, skipBackup bool) string {
	var b strings.Builder
	b.WriteString("warden exec ")
	b.WriteString(name)
	for _, p := range pairs {
		fmt.Fprintf(&b, " --param %q", p)
	}
	if skipBackup {
		b.WriteString(" --skip-backup-check")
	}
	fmt.Fprintf(&b, " --token %s", token)
	return b.String()
}
