package flow

import (
	"encoding/json"
	"strings"
)

// toolArgumentsLogLimit caps how much of a tool call's arguments reach the log.
const toolArgumentsLogLimit = 512

func formatToolArgumentsForLog(raw json.RawMessage) string {
	args := strings.TrimSpace(string(raw))
	if len(args) > toolArgumentsLogLimit {
		return args[:toolArgumentsLogLimit] + "...(truncated)"
	}
	return args
}
