package treq

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewSessionID returns an opaque session id: base36 unix millis plus a random
// hex suffix. Ids generated within the same millisecond still differ.
func NewSessionID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + randHex(4)
}

// NewRunID returns a unique run correlation id.
func NewRunID() string {
	return uuid.New().String()
}

// NewFlowID returns a unique flow id.
func NewFlowID() string {
	return uuid.New().String()
}

// NewExecID returns a request execution id, unique within a flow.
func NewExecID() string {
	return "exec-" + randHex(6)
}

// NewWsSessionID returns a WebSocket proxy session id.
func NewWsSessionID() string {
	return "ws-" + randHex(6)
}

func randHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// math-free fallback keeps ids usable even if entropy is exhausted
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(buf)
}
