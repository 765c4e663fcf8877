package api

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// encodeCursor/decodeCursor turn a (created_at, id) pagination key
// into an opaque, URL-safe token so clients never parse the pair
// themselves.
func encodeCursor(t time.Time, id string) string {
	raw := fmt.Sprintf("%d:%s", t.UnixNano(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(token string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	var nanos int64
	if _, err := fmt.Sscanf(parts[0], "%d", &nanos); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, nanos), parts[1], nil
}
