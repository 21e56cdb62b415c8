package persistence

import (
	"strings"
	"time"
)

func createEvent(
	eventType QueryEventType,
	operation string,
	collectionName string,
	input any,
	output any,
	err *string,
	startTime time.Time,
) QueryEvent {
	var duration *int64
	if !startTime.IsZero() {
		d := time.Since(startTime).Milliseconds()
		duration = &d
	}

	collectionNamePtr := &collectionName

	return QueryEvent{
		Type:       eventType,
		Timestamp:  time.Now().UnixMilli(),
		Operation:  operation,
		Collection: collectionNamePtr,
		Input:      input,
		Output:     output,
		Error:      err,
		Duration:   duration,
	}
}

// SplitSearchKey splits a "|"-separated list of search field paths, dropping
// empty entries.
func SplitSearchKey(key string) []string {
	var out []string
	for _, p := range strings.Split(key, "|") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
