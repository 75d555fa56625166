package transport

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// HCI status codes that show up when a radio link dies. The host stack
// reports these numerically; surfacing the raw number to a browser test
// log makes failures look like bridge bugs, so they are translated here.
var hciErrorText = map[int]string{
	0x05: "authentication failure",
	0x06: "PIN or key missing",
	0x08: "connection supervision timeout",
	0x0c: "command disallowed",
	0x12: "invalid connection parameters",
	0x13: "remote device terminated the connection",
	0x14: "remote device terminated the connection (low resources)",
	0x15: "remote device terminated the connection (power off)",
	0x16: "connection terminated by local host",
	0x1f: "unspecified radio error",
	0x22: "link-layer response timeout",
	0x28: "instant passed",
	0x3b: "unacceptable connection parameters",
	0x3d: "connection terminated (MIC failure)",
	0x3e: "connection failed to be established",
}

var hciCodePattern = regexp.MustCompile(`(?i)\b(?:status|code|error)[ =:]*0x([0-9a-f]{2})\b`)

// DescribeError rewrites a transport error message, expanding any embedded
// HCI status code into descriptive text. Messages without a recognizable
// code pass through unchanged.
func DescribeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	m := hciCodePattern.FindStringSubmatch(msg)
	if m == nil {
		return msg
	}
	code, convErr := strconv.ParseInt(strings.ToLower(m[1]), 16, 32)
	if convErr != nil {
		return msg
	}
	text, ok := hciErrorText[int(code)]
	if !ok {
		return msg
	}
	return fmt.Sprintf("%s (%s)", msg, text)
}
