package core

import "errors"

var (
	// ErrInsufficientBalance indicates the exchange rejected the action due to insufficient funds.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrOrderNotFound indicates the order does not exist on the exchange.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderRejected indicates the order was rejected by the exchange.
	ErrOrderRejected = errors.New("order rejected")
	// ErrOrderDone indicates the order already completed and can no longer be canceled.
	ErrOrderDone = errors.New("order already done")
	// ErrBadCredentials indicates missing or invalid API credentials.
	ErrBadCredentials = errors.New("bad api credentials")
	// ErrScanActive indicates a history scan is already running on this trader.
	ErrScanActive = errors.New("history scan already active")
)
