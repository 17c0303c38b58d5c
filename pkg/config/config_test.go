package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultArgs(t *testing.T) {
	t.Run("Should expose registry defaults", func(t *testing.T) {
		args := DefaultArgs()
		assert.Equal(t, 512, args.BatchSize)
		assert.Equal(t, "bert-base-cased", args.EncoderName)
		assert.Equal(t, "sd", args.Scheduler)
		assert.Equal(t, 9, args.CoefD)
		assert.InDelta(t, 1.5, args.SigmaMin, 1e-12)
		assert.InDelta(t, 200.0, args.SigmaMax, 1e-12)
		assert.Equal(t, "features", args.EmbStatisticsAggType)
		assert.Equal(t, "tencdm", args.ProjectName)
		assert.Empty(t, args.EncoderLink)
		assert.Empty(t, args.DatasetName)
	})
}

func TestConfig_Clone(t *testing.T) {
	t.Run("Should deep copy nested slices and maps", func(t *testing.T) {
		cfg, err := Build(t.Context(), DefaultArgs(), testOptions()...)
		require.NoError(t, err)
		clone := cfg.Clone()
		require.NotNil(t, clone)
		assert.Equal(t, cfg, clone)

		clone.Decoder.Betas[0] = 0.5
		clone.Data.Datasets.DatasetsList[0] = "qqp"
		m := clone.Data.Datasets.Metrics["rocstories"]
		m.TrackedMetric = "ppl"
		clone.Data.Datasets.Metrics["rocstories"] = m

		assert.InDelta(t, 0.9, cfg.Decoder.Betas[0], 1e-12)
		assert.Equal(t, "rocstories", cfg.Data.Datasets.DatasetsList[0])
		assert.Equal(t, "mauve", cfg.Data.Datasets.Metrics["rocstories"].TrackedMetric)
	})

	t.Run("Should return nil for a nil config", func(t *testing.T) {
		var cfg *Config
		assert.Nil(t, cfg.Clone())
	})
}

func TestResolveEncoderLink(t *testing.T) {
	cases := map[string]string{
		"bert-base-cased":           "google-bert/bert-base-cased",
		"BERT-large":                "google-bert/bert-base-cased",
		"google-t5/T5-small":        "google-t5/t5-base",
		"facebook/BART-large":       "facebook/bart-base",
		"FacebookAI/roberta-large":  "google-bert/bert-base-cased",
		"distilroberta":             "google-bert/bert-base-cased",
		"sentence-t5-with-bart-ids": "google-t5/t5-base",
	}
	for name, want := range cases {
		t.Run("Should resolve "+name, func(t *testing.T) {
			got, ok := ResolveEncoderLink(name, "")
			assert.True(t, ok)
			assert.Equal(t, want, got)
		})
	}
	t.Run("Should leave unknown names unresolved", func(t *testing.T) {
		got, ok := ResolveEncoderLink("gpt2", "")
		assert.False(t, ok)
		assert.Empty(t, got)
	})
	t.Run("Should short-circuit on an explicit link", func(t *testing.T) {
		got, ok := ResolveEncoderLink("gpt2", "openai-community/gpt2")
		assert.True(t, ok)
		assert.Equal(t, "openai-community/gpt2", got)
	})
}

func TestNameHash(t *testing.T) {
	t.Run("Should replace every slash", func(t *testing.T) {
		assert.Equal(t, "google-bert-bert-base-cased", NameHash("google-bert/bert-base-cased"))
		assert.Equal(t, "a-b-c", NameHash("a/b/c"))
		assert.Equal(t, "plain", NameHash("plain"))
	})
}

func TestDatasetTables(t *testing.T) {
	t.Run("Should list known datasets", func(t *testing.T) {
		assert.Equal(t, []string{"qqp", "rocstories", "wiki_auto", "wikipedia", "xsum"}, KnownDatasets())
	})
	t.Run("Should miss on unknown datasets", func(t *testing.T) {
		_, err := SequenceLen("paradetox")
		assert.ErrorIs(t, err, ErrLookupMiss)
		_, err = ContextLen("paradetox")
		assert.ErrorIs(t, err, ErrLookupMiss)
		_, err = TrackedMetric(DatasetMetrics(), "paradetox")
		assert.ErrorIs(t, err, ErrLookupMiss)
	})
	t.Run("Should hand out independent metric tables", func(t *testing.T) {
		a := DatasetMetrics()
		a["qqp"].Metrics[0] = "changed"
		assert.Equal(t, "bleu", DatasetMetrics()["qqp"].Metrics[0])
	})
	t.Run("Should classify conditional datasets", func(t *testing.T) {
		assert.False(t, IsConditional("rocstories"))
		assert.False(t, IsConditional("wikipedia"))
		assert.True(t, IsConditional("qqp"))
		assert.True(t, IsConditional("xsum"))
		assert.True(t, IsConditional("wiki_auto"))
	})
}

func TestFormatFloat(t *testing.T) {
	cases := map[float64]string{
		1.0:    "1.0",
		0.1:    "0.1",
		0.01:   "0.01",
		200:    "200.0",
		1.5:    "1.5",
		1e-05:  "1e-05",
		2.5e-7: "2.5e-07",
		0.0001: "0.0001",
		0:      "0.0",
		-3:     "-3.0",
		1e16:   "1e+16",
	}
	for in, want := range cases {
		t.Run("Should format "+want, func(t *testing.T) {
			assert.Equal(t, want, FormatFloat(in))
		})
	}
}

func TestContext(t *testing.T) {
	t.Run("Should round-trip the config through a context", func(t *testing.T) {
		cfg := &Config{Seed: 7}
		ctx := ContextWithConfig(t.Context(), cfg)
		assert.Same(t, cfg, FromContext(ctx))
	})
	t.Run("Should return nil without a config", func(t *testing.T) {
		assert.Nil(t, FromContext(t.Context()))
	})
}

func TestIsLocalModelPath(t *testing.T) {
	t.Run("Should recognise filesystem paths", func(t *testing.T) {
		for _, ref := range []string{"/models/my-bert", "./checkpoints/bert", "../bert", "~/models/bert", "."} {
			assert.True(t, IsLocalModelPath(ref), ref)
		}
	})
	t.Run("Should treat hub ids as remote", func(t *testing.T) {
		for _, ref := range []string{"", "bert-base-cased", "google-bert/bert-base-cased", ".hidden/model"} {
			assert.False(t, IsLocalModelPath(ref), ref)
		}
	})
}
