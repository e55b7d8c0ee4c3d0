package consts

import "time"

const (
	// SSEDataPrefix precedes every frame payload on the stream endpoint.
	SSEDataPrefix = "data: "

	// HistoryKeyPrefix namespaces the per-channel replay lists in Redis.
	HistoryKeyPrefix = "ci:"

	// HistorySize is the number of messages retained per channel.
	HistorySize = 20

	// HistoryTTL bounds how long an idle channel keeps its replay list.
	// It is refreshed on every push.
	HistoryTTL = time.Hour
)
