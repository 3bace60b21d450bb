package check

import "fmt"

// MsgOperational formats the success message for a probe that finished within
// the degraded threshold.
func MsgOperational(latencyMs int64) string {
	return fmt.Sprintf("流式响应正常 (%dms)", latencyMs)
}

// MsgDegraded formats the message for a probe that succeeded but exceeded the
// degraded threshold.
func MsgDegraded(latencyMs int64) string {
	return fmt.Sprintf("响应成功但耗时 %dms", latencyMs)
}

// MsgHTTPStatus formats the protocol-error message for a non-2xx response.
func MsgHTTPStatus(code int) string {
	return fmt.Sprintf("HTTP %d", code)
}

// maxMessageLen bounds free-text messages stored in history records.
const maxMessageLen = 200

// TruncateMessage bounds msg to maxMessageLen runes; empty input maps to the
// unknown-error fallback.
func TruncateMessage(msg string) string {
	if msg == "" {
		return MsgUnknownError
	}
	runes := []rune(msg)
	if len(runes) <= maxMessageLen {
		return msg
	}
	return string(runes[:maxMessageLen])
}
