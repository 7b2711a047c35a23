// ABOUTME: Minimal flag parsing for subcommands
// ABOUTME: Accepts "--name value", "--name=value" and bare boolean switches

package main

import (
	"fmt"
	"slices"
	"strings"
)

// parseArgs parses args against the allowed value and boolean flags.
// Boolean flags are stored as "true".
func parseArgs(args, valueFlags, boolFlags []string) (map[string]string, error) {
	out := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")

		switch {
		case slices.Contains(boolFlags, name):
			if hasValue {
				return nil, fmt.Errorf("--%s takes no value", name)
			}
			out[name] = "true"
		case slices.Contains(valueFlags, name):
			if !hasValue {
				if i+1 >= len(args) {
					return nil, fmt.Errorf("--%s requires a value", name)
				}
				value = args[i+1]
				i++
			}
			out[name] = value
		default:
			return nil, fmt.Errorf("unknown flag: --%s", name)
		}
	}
	return out, nil
}

// splitList splits a comma separated flag value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
