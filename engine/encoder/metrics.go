package encoder

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	meterName   = "tencdm.encoder"
	labelMode   = "mode"
	labelFamily = "family"
	labelKind   = "kind"

	substitutionPad     = "pad"
	substitutionSpecial = "special"
)

var defaultLatencyBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2}

// Recorder publishes encode latency, batch and substitution counts.
type Recorder struct {
	latency       metric.Float64Histogram
	batches       metric.Int64Counter
	tokens        metric.Int64Counter
	substitutions metric.Int64Counter
}

// NewRecorder creates the encoder instruments on meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	latency, err := meter.Float64Histogram(
		"tencdm_encoder_encode_seconds",
		metric.WithDescription("Encoder batch latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(defaultLatencyBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("create encoder latency histogram: %w", err)
	}
	batches, err := meter.Int64Counter(
		"tencdm_encoder_batches_total",
		metric.WithDescription("Encoded batches"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create encoder batches counter: %w", err)
	}
	tokens, err := meter.Int64Counter(
		"tencdm_encoder_tokens_total",
		metric.WithDescription("Encoded token positions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create encoder tokens counter: %w", err)
	}
	substitutions, err := meter.Int64Counter(
		"tencdm_encoder_special_substitutions_total",
		metric.WithDescription("Hidden states replaced for special tokens"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create encoder substitutions counter: %w", err)
	}
	return &Recorder{latency: latency, batches: batches, tokens: tokens, substitutions: substitutions}, nil
}

// Nop returns a recorder that discards everything.
func Nop() *Recorder {
	r, err := NewRecorder(noop.NewMeterProvider().Meter(meterName))
	if err != nil {
		return &Recorder{}
	}
	return r
}

// defaultRecorder uses the global meter provider and falls back to Nop.
func defaultRecorder() *Recorder {
	r, err := NewRecorder(otel.GetMeterProvider().Meter(meterName))
	if err != nil {
		return Nop()
	}
	return r
}

func (r *Recorder) recordBatch(ctx context.Context, mode Mode, family Family, tokens int, d time.Duration) {
	if r == nil || r.latency == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(labelMode, mode.String()),
		attribute.String(labelFamily, family.String()),
	)
	r.latency.Record(ctx, d.Seconds(), attrs)
	r.batches.Add(ctx, 1, attrs)
	r.tokens.Add(ctx, int64(tokens), attrs)
}

func (r *Recorder) recordSubstitutions(ctx context.Context, pad, special int) {
	if r == nil || r.substitutions == nil {
		return
	}
	if pad > 0 {
		r.substitutions.Add(ctx, int64(pad), metric.WithAttributes(attribute.String(labelKind, substitutionPad)))
	}
	if special > 0 {
		r.substitutions.Add(ctx, int64(special), metric.WithAttributes(attribute.String(labelKind, substitutionSpecial)))
	}
}
