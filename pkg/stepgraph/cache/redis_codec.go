package cache

import (
	"time"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph/serde"
)

func encodeScope(s Scope) (string, error) {
	if s == nil {
		s = Scope{}
	}
	data, err := serde.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeScope(raw string) (Scope, error) {
	if raw == "" {
		return Scope{}, nil
	}
	var s Scope
	if err := serde.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	if s == nil {
		s = Scope{}
	}
	return s, nil
}

func unixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
