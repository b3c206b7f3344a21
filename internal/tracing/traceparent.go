package tracing

import "strings"

// ParseTraceparent extracts the trace and span identifiers from a W3C
// trace-context header value: 00-<trace_id>-<span_id>-<flags>.
func ParseTraceparent(value string) (traceID, spanID string, ok bool) {
	parts := strings.Split(value, "-")
	if len(parts) != 4 {
		return "", "", false
	}
	if parts[0] != "00" || len(parts[1]) != 32 || len(parts[2]) != 16 || len(parts[3]) != 2 {
		return "", "", false
	}
	if !isHex(parts[1]) || !isHex(parts[2]) {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// FormatTraceparent renders a W3C trace-context header value.
func FormatTraceparent(traceID, spanID string) string {
	if spanID == "" {
		spanID = "0000000000000000"
	}
	return "00-" + traceID + "-" + spanID + "-01"
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
