// Package body consumes HTTP response bodies with a byte cap, detects binary
// content and encodes it for the JSON envelope.
package body

import (
	"encoding/base64"
	"io"
	"unicode/utf8"
)

const sniffWindow = 8 * 1024

// Body modes and encodings reported in the execute envelope.
const (
	ModeNone     = "none"
	ModeBuffered = "buffered"

	EncodingUTF8   = "utf-8"
	EncodingBase64 = "base64"
)

// Result describes the collected body.
type Result struct {
	Body      string `json:"body"`
	BodyMode  string `json:"bodyMode"`
	BodyBytes int    `json:"bodyBytes"`
	Encoding  string `json:"encoding"`
	Truncated bool   `json:"truncated"`
}

// Read consumes reader up to maxBytes. Overflow sets Truncated and is
// discarded; the caller remains responsible for closing the upstream reader.
func Read(reader io.Reader, maxBytes int) (*Result, error) {
	if maxBytes < 0 {
		maxBytes = 0
	}
	collected := make([]byte, 0, min(maxBytes, 32*1024))
	buf := make([]byte, 32*1024)
	truncated := false
	for len(collected) <= maxBytes {
		n, err := reader.Read(buf)
		if n > 0 {
			room := maxBytes - len(collected)
			if n > room {
				collected = append(collected, buf[:room]...)
				truncated = true
				break
			}
			collected = append(collected, buf[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	ret := &Result{
		BodyMode:  ModeBuffered,
		BodyBytes: len(collected),
		Truncated: truncated,
		Encoding:  EncodingUTF8,
	}
	if len(collected) == 0 {
		ret.BodyMode = ModeNone
		return ret, nil
	}
	if isBinary(collected) {
		ret.Encoding = EncodingBase64
		ret.Body = base64.StdEncoding.EncodeToString(collected)
		return ret, nil
	}
	ret.Body = string(collected)
	return ret, nil
}

// isBinary applies a heuristic over the first 8 KiB: a zero byte, or a
// high-bit byte violating UTF-8 continuation framing, marks binary content.
func isBinary(data []byte) bool {
	window := data
	if len(window) > sniffWindow {
		window = window[:sniffWindow]
	}
	for _, b := range window {
		if b == 0 {
			return true
		}
	}
	for i := 0; i < len(window); {
		if window[i] < utf8.RuneSelf {
			i++
			continue
		}
		r, size := utf8.DecodeRune(window[i:])
		if r == utf8.RuneError && size == 1 {
			// a plausible multi-byte leader split at the window edge is not
			// conclusive
			if len(window)-i < utf8.UTFMax && window[i] >= 0xc2 && window[i] <= 0xf4 {
				return false
			}
			return true
		}
		i += size
	}
	return false
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
