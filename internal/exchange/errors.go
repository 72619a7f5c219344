package exchange

import "errors"

var (
	// ErrAuthentication marks a request the venue rejected for a bad
	// signature or expired nonce. Fatal for the request; never retried.
	ErrAuthentication = errors.New("venue authentication failed")

	// ErrDataIntegrity marks venue data that failed validation, such as
	// a tick window whose timestamps do not match the requested minute.
	// The caller decides whether to abort or skip.
	ErrDataIntegrity = errors.New("venue data integrity check failed")

	// ErrDataUnavailable marks market data that could not be acquired
	// after all sources were exhausted.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrPoolSaturated is returned when a venue's worker pool has no
	// free slot; the request was rejected for backpressure, not failed.
	ErrPoolSaturated = errors.New("venue worker pool saturated")

	// ErrOrderRejected marks an order the venue refused.
	ErrOrderRejected = errors.New("order rejected by venue")
)
