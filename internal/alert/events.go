package alert

import "strconv"

// Event is one operator-facing notification. Details render in order, one
// "key: value" line per entry.
type Event struct {
	Name    string
	Details []Detail
}

// Detail is a single labeled value attached to an event.
type Detail struct {
	Key   string
	Value string
}

// ScanFailed reports a trade history scan that aborted with err.
func ScanFailed(err error) Event {
	return Event{Name: "scan_failed", Details: []Detail{
		{"err", err.Error()},
	}}
}

// OrderFailed reports an order submission that gave up with err.
func OrderFailed(side string, err error) Event {
	return Event{Name: "order_failed", Details: []Detail{
		{"side", side},
		{"err", err.Error()},
	}}
}

// CancelFailed reports a cancel whose outcome could not be confirmed.
func CancelFailed(orderID string, err error) Event {
	return Event{Name: "cancel_failed", Details: []Detail{
		{"order_id", orderID},
		{"err", err.Error()},
	}}
}

// FeedDisconnected reports a dropped websocket feed.
func FeedDisconnected(reason string) Event {
	return Event{Name: "feed_disconnected", Details: []Detail{
		{"reason", reason},
	}}
}

// FeedReconnectExhausted reports that the feed dialer gave up after the given
// number of consecutive failures.
func FeedReconnectExhausted(failures int, err error) Event {
	return Event{Name: "feed_reconnect_exhausted", Details: []Detail{
		{"failures", strconv.Itoa(failures)},
		{"reason", err.Error()},
	}}
}
