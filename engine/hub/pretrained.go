package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/tencdm/tencdm/pkg/config"
)

const configFile = "config.json"

// PretrainedConfig reads config.json of id. Results are memoised per id and
// callers receive their own copy.
func (h *Hub) PretrainedConfig(ctx context.Context, id string) (*config.PretrainedConfig, error) {
	if cached, ok := h.configs.Get(id); ok {
		return &cached, nil
	}
	data, err := h.fetch(ctx, id, configFile)
	if err != nil {
		return nil, err
	}
	cfg, err := parsePretrained(data)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", id, configFile, err)
	}
	h.configs.Add(id, *cfg)
	return cfg, nil
}

// Fallback serves ids the hub cannot find from next instead.
func (h *Hub) Fallback(next config.PretrainedConfigProvider) config.PretrainedConfigProvider {
	return config.PretrainedConfigFunc(func(ctx context.Context, id string) (*config.PretrainedConfig, error) {
		cfg, err := h.PretrainedConfig(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return next.PretrainedConfig(ctx, id)
		}
		return cfg, err
	})
}

// parsePretrained accepts the key spellings of the bert, t5 and bart config families.
func parsePretrained(data []byte) (*config.PretrainedConfig, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}
	doc := gjson.ParseBytes(data)
	cfg := &config.PretrainedConfig{
		ModelType:                 firstOf(doc, "model_type").String(),
		VocabSize:                 int(firstOf(doc, "vocab_size").Int()),
		HiddenSize:                int(firstOf(doc, "hidden_size", "d_model").Int()),
		NumHiddenLayers:           int(firstOf(doc, "num_hidden_layers", "num_layers", "encoder_layers").Int()),
		NumAttentionHeads:         int(firstOf(doc, "num_attention_heads", "num_heads", "encoder_attention_heads").Int()),
		IntermediateSize:          int(firstOf(doc, "intermediate_size", "d_ff", "encoder_ffn_dim").Int()),
		HiddenAct:                 firstOf(doc, "hidden_act", "activation_function", "dense_act_fn").String(),
		HiddenDropoutProb:         firstOf(doc, "hidden_dropout_prob", "dropout_rate", "dropout").Float(),
		AttentionProbsDropoutProb: firstOf(doc, "attention_probs_dropout_prob", "attention_dropout").Float(),
		MaxPositionEmbeddings:     int(firstOf(doc, "max_position_embeddings", "n_positions").Int()),
		TypeVocabSize:             int(firstOf(doc, "type_vocab_size").Int()),
		InitializerRange:          firstOf(doc, "initializer_range", "initializer_factor", "init_std").Float(),
		LayerNormEps:              firstOf(doc, "layer_norm_eps", "layer_norm_epsilon").Float(),
		PadTokenID:                int(firstOf(doc, "pad_token_id").Int()),
		PositionEmbeddingType:     firstOf(doc, "position_embedding_type").String(),
	}
	if cfg.HiddenSize <= 0 || cfg.VocabSize <= 0 {
		return nil, errors.New("config is missing vocab_size or hidden size")
	}
	return cfg, nil
}

func firstOf(doc gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if r := doc.Get(k); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}
