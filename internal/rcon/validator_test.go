package rcon

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		command string
		args    string
		wantErr string
	}{
		{"list without args", "list", "", ""},
		{"save-all", "save-all", "", ""},
		{"whitelist list", "whitelist list", "", ""},
		{"whitelist add valid", "whitelist add", "Steve_123", ""},
		{"whitelist add min length", "whitelist add", "abc", ""},
		{"whitelist add max length", "whitelist add", strings.Repeat("a", 16), ""},
		{"whitelist remove valid", "whitelist remove", "PlayerName", ""},
		{"say valid", "say", "Hello everyone!", ""},
		{"say punctuation", "say", `Server restart in 5 min, ok? "yes" - admin's note.`, ""},
		{"say max length", "say", strings.Repeat("x", 100), ""},

		{"unknown command", "op", "Steve", "Command not allowed. Allowed commands: whitelist add, whitelist remove, whitelist list, list, save-all, say"},
		{"case sensitive", "LIST", "", "Command not allowed"},
		{"surrounding space", " list", "", "Command not allowed"},
		{"list with args", "list", "x", "This command does not accept arguments"},
		{"save-all with args", "save-all", "now", "This command does not accept arguments"},
		{"whitelist add too short", "whitelist add", "ab", "Invalid argument format. Example: PlayerName"},
		{"whitelist add too long", "whitelist add", strings.Repeat("a", 17), "Invalid argument format"},
		{"whitelist add injection", "whitelist add", "Steve; rm -rf /", "Invalid argument format"},
		{"whitelist add missing", "whitelist add", "", "This command requires an argument. Example: PlayerName"},
		{"say missing", "say", "", "This command requires an argument. Example: Hello everyone!"},
		{"say too long", "say", strings.Repeat("x", 101), "Invalid argument format. Example: Hello everyone!"},
		{"say shell metacharacters", "say", "hi $(whoami)", "Invalid argument format"},
		{"say semicolon", "say", "hi; reboot", "Invalid argument format"},
		{"say newline", "say", "hi\nthere", "Invalid argument format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.command, tt.args)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			if assert.True(t, errors.As(err, &verr)) {
				assert.Contains(t, verr.Message, tt.wantErr)
			}
		})
	}
}

func TestAllowedCommands(t *testing.T) {
	cmds := AllowedCommands()
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"whitelist add", "whitelist remove", "whitelist list", "list", "save-all", "say"}, names)

	spec, ok := Lookup("say")
	assert.True(t, ok)
	assert.True(t, spec.RequiresArg())

	spec, ok = Lookup("list")
	assert.True(t, ok)
	assert.False(t, spec.RequiresArg())
}
