package encoder

import "errors"

var (
	// ErrUnsupportedEncoder is returned for links outside the known families.
	ErrUnsupportedEncoder = errors.New("unsupported encoder")
	// ErrUnknownAggregation is returned for aggregation modes other than features and total.
	ErrUnknownAggregation = errors.New("unknown embedding aggregation type, supported: features, total")
	// ErrNoStatistics is returned when statistics are requested outside emb mode.
	ErrNoStatistics = errors.New("embedding statistics are only kept in emb mode")
	// ErrDegenerateStatistics is returned when a standard deviation is zero.
	ErrDegenerateStatistics = errors.New("embedding statistics have zero standard deviation")
	// ErrInvalidInput is returned for malformed id or mask batches.
	ErrInvalidInput = errors.New("invalid encoder input")
)
