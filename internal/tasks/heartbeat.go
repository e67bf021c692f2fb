package tasks

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// HeartbeatFile is the checklist the heartbeat task reads, relative to the
// workspace root.
const HeartbeatFile = "HEARTBEAT.md"

var uncheckedItem = regexp.MustCompile(`^\s*-\s*\[\s\]\s+(.+?)\s*$`)

// ReadHeartbeat returns the unchecked checklist items from a HEARTBEAT.md
// file. A missing file yields no items and no error.
func ReadHeartbeat(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tasks: read heartbeat: %w", err)
	}

	var items []string
	for _, line := range strings.Split(string(data), "\n") {
		if m := uncheckedItem.FindStringSubmatch(line); m != nil {
			items = append(items, m[1])
		}
	}
	return items, nil
}

// HeartbeatPrompt builds the agent prompt for one heartbeat run. Empty when
// there is nothing to do.
func HeartbeatPrompt(items []string) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Heartbeat check. Work through these outstanding items:\n")
	for _, item := range items {
		fmt.Fprintf(&b, "- %s\n", item)
	}
	b.WriteString("\nReport briefly what you did or what is blocked.")
	return b.String()
}
