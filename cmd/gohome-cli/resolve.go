package main

import (
	"fmt"
	"sort"
	"strings"
)

// normalizeName folds case and separators so "Living Room" matches
// "living_room" and "living-room".
func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}

// resolveNamedID maps a display name to its ID. options is keyed by label.
func resolveNamedID(kind, input string, options map[string]string) (string, error) {
	needle := normalizeName(input)
	var matches []string
	for label, id := range options {
		if normalizeName(label) == needle {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		available := make([]string, 0, len(options))
		for label := range options {
			available = append(available, label)
		}
		sort.Strings(available)
		return "", fmt.Errorf("%s %q not found. Available: %s", kind, input, strings.Join(available, ", "))
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("%s %q is ambiguous; use one of %s", kind, input, strings.Join(matches, ", "))
	}
}
