package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRecorder_RecordsEncodeMetrics(t *testing.T) {
	ctx := t.Context()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	recorder, err := NewRecorder(provider.Meter("test"))
	require.NoError(t, err)

	f := newFixture()
	f.deps.Metrics = recorder
	a, err := New(ctx, Config{Link: bertLink, ChangeSpecialTokens: true}, f.deps)
	require.NoError(t, err)
	_, err = a.Encode(ctx, [][]int{{1, 3, 2, 0}, {1, 4, 0, 0}}, nil)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	sums := map[string]int64{}
	var histograms int
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Histogram[float64]:
				require.NotEmpty(t, data.DataPoints)
				histograms++
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, 1, histograms)
	assert.Equal(t, int64(1), sums["tencdm_encoder_batches_total"])
	assert.Equal(t, int64(8), sums["tencdm_encoder_tokens_total"])
	// three pads plus three other special tokens
	assert.Equal(t, int64(6), sums["tencdm_encoder_special_substitutions_total"])
}

func TestRecorder_NopDoesNothing(t *testing.T) {
	rec := Nop()
	rec.recordBatch(t.Context(), Direct, Bert, 10, 0)
	rec.recordSubstitutions(t.Context(), 1, 1)
	var nilRec *Recorder
	nilRec.recordBatch(t.Context(), Direct, Bert, 10, 0)
}

func TestClassify(t *testing.T) {
	cases := map[string]Family{
		"google-bert/bert-base-cased": Bert,
		"FacebookAI/roberta-base":     Bert,
		"google-t5/T5-base":           T5,
		"facebook/bart-base":          Bart,
		"openai-community/gpt2":       Unsupported,
		"":                            Unsupported,
	}
	for link, want := range cases {
		t.Run("Should classify "+link, func(t *testing.T) {
			assert.Equal(t, want, Classify(link))
		})
	}
	t.Run("Should expose a strategy for every supported family", func(t *testing.T) {
		for _, f := range []Family{Bert, Roberta, T5, Bart} {
			s, err := StrategyFor(f)
			require.NoError(t, err)
			assert.Equal(t, f, s.Family)
			assert.NotEmpty(t, s.EmbeddingParam)
		}
		_, err := StrategyFor(Unsupported)
		assert.ErrorIs(t, err, ErrUnsupportedEncoder)
	})
	t.Run("Should name families and load kinds", func(t *testing.T) {
		assert.Equal(t, "roberta", Roberta.String())
		assert.Equal(t, "unsupported", Unsupported.String())
		assert.Equal(t, "encoder_submodule", LoadEncoderSubmodule.String())
		assert.Equal(t, "direct", Direct.String())
	})
}

func TestParseAggregation(t *testing.T) {
	t.Run("Should accept known modes", func(t *testing.T) {
		a, err := ParseAggregation("features")
		require.NoError(t, err)
		assert.Equal(t, AggFeatures, a)
		a, err = ParseAggregation("total")
		require.NoError(t, err)
		assert.Equal(t, AggTotal, a)
	})
	t.Run("Should reject anything else", func(t *testing.T) {
		_, err := ParseAggregation("Features")
		assert.ErrorIs(t, err, ErrUnknownAggregation)
	})
}
