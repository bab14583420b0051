package rcon

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	playerNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,16}$`)
	broadcastPattern  = regexp.MustCompile(`^[a-zA-Z0-9_ !?.,'"-]{1,100}$`)
)

// CommandSpec describes one allowed console command and its argument rule.
type CommandSpec struct {
	Name        string
	Description string
	// ArgPattern is nil for commands that take no argument.
	ArgPattern *regexp.Regexp
	Example    string
}

// RequiresArg reports whether the command needs an argument.
func (s CommandSpec) RequiresArg() bool {
	return s.ArgPattern != nil
}

// whitelist is ordered; the order is used in error messages and listings.
var whitelist = []CommandSpec{
	{Name: "whitelist add", Description: "Add a player to the whitelist", ArgPattern: playerNamePattern, Example: "PlayerName"},
	{Name: "whitelist remove", Description: "Remove a player from the whitelist", ArgPattern: playerNamePattern, Example: "PlayerName"},
	{Name: "whitelist list", Description: "Show whitelisted players"},
	{Name: "list", Description: "Show online players"},
	{Name: "save-all", Description: "Save the world to disk"},
	{Name: "say", Description: "Broadcast a message to all players", ArgPattern: broadcastPattern, Example: "Hello everyone!"},
}

var whitelistByName = func() map[string]CommandSpec {
	m := make(map[string]CommandSpec, len(whitelist))
	for _, spec := range whitelist {
		m[spec.Name] = spec
	}
	return m
}()

// ValidationError is returned when a command or its argument is rejected.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// AllowedCommands returns the whitelist in display order.
func AllowedCommands() []CommandSpec {
	out := make([]CommandSpec, len(whitelist))
	copy(out, whitelist)
	return out
}

// Lookup returns the CommandSpec for an allowed command name.
func Lookup(command string) (CommandSpec, bool) {
	spec, ok := whitelistByName[command]
	return spec, ok
}

// Validate checks command and args against the whitelist. Command names are
// matched exactly; an empty args means no argument was given.
func Validate(command, args string) error {
	spec, ok := whitelistByName[command]
	if !ok {
		return &ValidationError{Message: fmt.Sprintf("Command not allowed. Allowed commands: %s", allowedNames())}
	}

	if !spec.RequiresArg() {
		if args != "" {
			return &ValidationError{Message: "This command does not accept arguments"}
		}
		return nil
	}

	if args == "" {
		return &ValidationError{Message: fmt.Sprintf("This command requires an argument. Example: %s", spec.Example)}
	}
	if !spec.ArgPattern.MatchString(args) {
		return &ValidationError{Message: fmt.Sprintf("Invalid argument format. Example: %s", spec.Example)}
	}
	return nil
}

func allowedNames() string {
	names := make([]string, len(whitelist))
	for i, spec := range whitelist {
		names[i] = spec.Name
	}
	return strings.Join(names, ", ")
}
