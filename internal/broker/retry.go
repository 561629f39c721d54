package broker

import (
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RetryCountHeader carries the number of explicit requeues a message has had.
const RetryCountHeader = "x-retry-count"

// RetryCount reads RetryCountHeader from headers. Absent or unreadable
// values count as 0.
func RetryCount(headers amqp.Table) int {
	v, ok := headers[RetryCountHeader]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

// withRetryCount copies headers and sets RetryCountHeader to count.
func withRetryCount(headers amqp.Table, count int) amqp.Table {
	out := make(amqp.Table, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	out[RetryCountHeader] = int32(count)
	return out
}
