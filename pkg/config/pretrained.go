package config

import (
	"context"
)

// PretrainedConfigProvider resolves the config.json of a pretrained model.
type PretrainedConfigProvider interface {
	PretrainedConfig(ctx context.Context, id string) (*PretrainedConfig, error)
}

// PretrainedConfigFunc adapts a function to PretrainedConfigProvider.
type PretrainedConfigFunc func(ctx context.Context, id string) (*PretrainedConfig, error)

func (f PretrainedConfigFunc) PretrainedConfig(ctx context.Context, id string) (*PretrainedConfig, error) {
	return f(ctx, id)
}

func bertBaseCased() PretrainedConfig {
	return PretrainedConfig{
		ModelType:                 "bert",
		VocabSize:                 28996,
		HiddenSize:                768,
		NumHiddenLayers:           12,
		NumAttentionHeads:         12,
		IntermediateSize:          3072,
		HiddenAct:                 "gelu",
		HiddenDropoutProb:         0.1,
		AttentionProbsDropoutProb: 0.1,
		MaxPositionEmbeddings:     512,
		TypeVocabSize:             2,
		InitializerRange:          0.02,
		LayerNormEps:              1e-12,
		PadTokenID:                0,
		PositionEmbeddingType:     "absolute",
	}
}

var builtinPretrained = map[string]func() PretrainedConfig{
	"bert-base-cased":             bertBaseCased,
	"google-bert/bert-base-cased": bertBaseCased,
	"FacebookAI/roberta-base": func() PretrainedConfig {
		c := bertBaseCased()
		c.ModelType = "roberta"
		c.VocabSize = 50265
		c.MaxPositionEmbeddings = 514
		c.TypeVocabSize = 1
		c.LayerNormEps = 1e-5
		c.PadTokenID = 1
		return c
	},
	"google-t5/t5-base": func() PretrainedConfig {
		return PretrainedConfig{
			ModelType:         "t5",
			VocabSize:         32128,
			HiddenSize:        768,
			NumHiddenLayers:   12,
			NumAttentionHeads: 12,
			IntermediateSize:  3072,
			HiddenAct:         "relu",
			HiddenDropoutProb: 0.1,
			InitializerRange:  1.0,
			LayerNormEps:      1e-6,
			PadTokenID:        0,
		}
	},
	"facebook/bart-base": func() PretrainedConfig {
		return PretrainedConfig{
			ModelType:                 "bart",
			VocabSize:                 50265,
			HiddenSize:                768,
			NumHiddenLayers:           6,
			NumAttentionHeads:         12,
			IntermediateSize:          3072,
			HiddenAct:                 "gelu",
			HiddenDropoutProb:         0.1,
			AttentionProbsDropoutProb: 0.1,
			MaxPositionEmbeddings:     1024,
			InitializerRange:          0.02,
			PadTokenID:                1,
		}
	},
}

// BuiltinPretrained serves the configs of the default encoder links without network or disk access.
func BuiltinPretrained() PretrainedConfigProvider {
	return PretrainedConfigFunc(func(_ context.Context, id string) (*PretrainedConfig, error) {
		build, ok := builtinPretrained[id]
		if !ok {
			return nil, NewLookupError("builtin pretrained configs", id)
		}
		c := build()
		return &c, nil
	})
}
