package constants

import "time"

// Redis keys
const (
	RedisKeyQueuePending    = "queue:pending"
	RedisKeyQueueProcessing = "queue:processing"
	RedisKeyQueueDelayed    = "queue:delayed"
	RedisKeyQueueCompleted  = "queue:completed"
	RedisKeyQueueFailed     = "queue:failed"
	RedisKeyLeasePrefix     = "queue:lease:"

	RedisKeyOrderPrefix  = "order:"
	RedisKeyActiveOrders = "orders:active"
	RedisKeyUpdateSuffix = ":updates"
)

// Cache limits
const (
	OrderCacheTTL       = time.Hour
	MaxUpdateLogEntries = 50
)

// Queue housekeeping
const (
	CompletedJobRetention = 100
	FailedJobRetention    = 50
)

// Retry policy
const (
	RetryBaseDelay = 1 * time.Second
	RetryMaxDelay  = 30 * time.Second
	RetryJitterPct = 0.2
)

// Queue lease
const (
	LeaseVisibilityTimeout = 60 * time.Second
	ReapInterval           = 5 * time.Second
)

// Admission bounds
const (
	MaxAmountIn       = 1_000_000.0
	MaxAmountFraction = 8 // decimal digits allowed after the point
	MinSlippage       = 0.0001
	MaxSlippage       = 0.5
	DefaultSlippage   = 0.01
)

// Venue fees (defaults, overridable via config)
const (
	RaydiumFee = 0.0025
	MeteoraFee = 0.002
)
