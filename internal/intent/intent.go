// Package intent turns free-form operator requests into a structured
// action name and parameters.
package intent

import (
	"context"
	"strings"

	"github.com/jkaninda/warden/internal/action"
)

// Intent is the parsed form of a request.
type Intent struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
}

// Parser extracts an Intent from text. Implementations never fail: anything
// they cannot understand becomes the help intent.
type Parser interface {
	Parse(ctx context.Context, text string) Intent
}

// Help returns the fallback intent.
func Help() Intent {
	return Intent{Action: action.HelpAction, Parameters: map[string]any{}}
}

// IsHelp reports whether the intent is the help fallback.
func (i Intent) IsHelp() bool { return i.Action == action.HelpAction }

// legacyNames maps older action names that models still produce.
var legacyNames = map[string]string{
	"check_ami_backup":  "check_backup",
	"create_ami_backup": "create_backup",
	"list_amis":         "list_backups",
}

func normalize(in Intent) Intent {
	name := strings.ToLower(strings.TrimSpace(in.Action))
	if alias, ok := legacyNames[name]; ok {
		name = alias
	}
	if name == "" {
		return Help()
	}
	params := in.Parameters
	if params == nil {
		params = map[string]any{}
	}
	return Intent{Action: name, Parameters: params}
}
