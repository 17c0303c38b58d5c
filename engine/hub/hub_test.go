package hub

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tencdm/tencdm/engine/encoder"
	"github.com/tencdm/tencdm/engine/tensor"
	"github.com/tencdm/tencdm/pkg/config"
)

// fakeRemote serves files keyed by "<id>/<file>" under /<id>/resolve/<rev>/<file>.
type fakeRemote struct {
	mu       sync.Mutex
	files    map[string][]byte
	hits     map[string]int
	failures map[string]int
}

func newFakeRemote(files map[string][]byte) *fakeRemote {
	return &fakeRemote{files: files, hits: map[string]int{}, failures: map[string]int{}}
}

func (f *fakeRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/resolve/", 2)
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	rest := strings.SplitN(parts[1], "/", 2)
	key := parts[0] + "/" + rest[1]
	f.hits[key]++
	if f.failures[key] > 0 {
		f.failures[key]--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	data, ok := f.files[key]
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(data)
}

func (f *fakeRemote) hitCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[key]
}

func newTestHub(t *testing.T, remote http.Handler, opts ...Option) (*Hub, afero.Fs) {
	t.Helper()
	srv := httptest.NewServer(remote)
	t.Cleanup(srv.Close)
	fs := afero.NewMemMapFs()
	base := []Option{
		WithFs(fs),
		WithCacheDir("/cache"),
		WithEndpoint(srv.URL),
		WithLockDir(t.TempDir()),
		WithToken(""),
	}
	h, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return h, fs
}

const bertConfigJSON = `{
  "model_type": "bert",
  "vocab_size": 28996,
  "hidden_size": 768,
  "num_hidden_layers": 12,
  "num_attention_heads": 12,
  "intermediate_size": 3072,
  "hidden_act": "gelu",
  "hidden_dropout_prob": 0.1,
  "attention_probs_dropout_prob": 0.1,
  "max_position_embeddings": 512,
  "type_vocab_size": 2,
  "initializer_range": 0.02,
  "layer_norm_eps": 1e-12,
  "pad_token_id": 0,
  "position_embedding_type": "absolute"
}`

const t5ConfigJSON = `{
  "model_type": "t5",
  "vocab_size": 32128,
  "d_model": 768,
  "num_layers": 12,
  "num_heads": 12,
  "d_ff": 3072,
  "dense_act_fn": "relu",
  "dropout_rate": 0.1,
  "initializer_factor": 1.0,
  "layer_norm_epsilon": 1e-6,
  "n_positions": 512,
  "pad_token_id": 0
}`

func TestHub_PretrainedConfig(t *testing.T) {
	t.Run("Should match the builtin bert-base-cased config", func(t *testing.T) {
		remote := newFakeRemote(map[string][]byte{"bert-base-cased/config.json": []byte(bertConfigJSON)})
		h, _ := newTestHub(t, remote)
		got, err := h.PretrainedConfig(t.Context(), "bert-base-cased")
		require.NoError(t, err)
		want, err := config.BuiltinPretrained().PretrainedConfig(t.Context(), "bert-base-cased")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
	t.Run("Should read t5 key spellings", func(t *testing.T) {
		remote := newFakeRemote(map[string][]byte{"google-t5/t5-base/config.json": []byte(t5ConfigJSON)})
		h, _ := newTestHub(t, remote)
		got, err := h.PretrainedConfig(t.Context(), "google-t5/t5-base")
		require.NoError(t, err)
		assert.Equal(t, 768, got.HiddenSize)
		assert.Equal(t, 12, got.NumAttentionHeads)
		assert.Equal(t, 12, got.NumHiddenLayers)
		assert.Equal(t, 3072, got.IntermediateSize)
		assert.Equal(t, "relu", got.HiddenAct)
		assert.InDelta(t, 1e-6, got.LayerNormEps, 1e-12)
		assert.Equal(t, 512, got.MaxPositionEmbeddings)
	})
	t.Run("Should cache downloads on disk and in memory", func(t *testing.T) {
		remote := newFakeRemote(map[string][]byte{"bert-base-cased/config.json": []byte(bertConfigJSON)})
		h, fs := newTestHub(t, remote)
		_, err := h.PretrainedConfig(t.Context(), "bert-base-cased")
		require.NoError(t, err)
		ok, err := afero.Exists(fs, filepath.Join("/cache", "bert-base-cased", "config.json"))
		require.NoError(t, err)
		assert.True(t, ok)

		first, err := h.PretrainedConfig(t.Context(), "bert-base-cased")
		require.NoError(t, err)
		first.HiddenSize = 1
		second, err := h.PretrainedConfig(t.Context(), "bert-base-cased")
		require.NoError(t, err)
		assert.Equal(t, 768, second.HiddenSize)
		assert.Equal(t, 1, remote.hitCount("bert-base-cased/config.json"))
	})
	t.Run("Should retry server errors", func(t *testing.T) {
		remote := newFakeRemote(map[string][]byte{"bert-base-cased/config.json": []byte(bertConfigJSON)})
		remote.failures["bert-base-cased/config.json"] = 2
		h, _ := newTestHub(t, remote)
		_, err := h.PretrainedConfig(t.Context(), "bert-base-cased")
		require.NoError(t, err)
		assert.Equal(t, 3, remote.hitCount("bert-base-cased/config.json"))
	})
	t.Run("Should report missing files as ErrNotFound", func(t *testing.T) {
		h, _ := newTestHub(t, newFakeRemote(nil))
		_, err := h.PretrainedConfig(t.Context(), "nobody/nothing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
	t.Run("Should serve only the cache when offline", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/cache/bert-base-cased/config.json", []byte(bertConfigJSON), 0o644))
		h, err := New(WithFs(fs), WithCacheDir("/cache"), WithEndpoint(""))
		require.NoError(t, err)
		_, err = h.PretrainedConfig(t.Context(), "bert-base-cased")
		require.NoError(t, err)
		_, err = h.PretrainedConfig(t.Context(), "facebook/bart-base")
		assert.ErrorIs(t, err, ErrNotFound)
	})
	t.Run("Should reject configs without a hidden size", func(t *testing.T) {
		remote := newFakeRemote(map[string][]byte{"x/config.json": []byte(`{"vocab_size": 3}`)})
		h, _ := newTestHub(t, remote)
		_, err := h.PretrainedConfig(t.Context(), "x")
		assert.Error(t, err)
	})
	t.Run("Should defer unknown ids to the fallback provider", func(t *testing.T) {
		h, _ := newTestHub(t, newFakeRemote(nil))
		cfg, err := h.Fallback(config.BuiltinPretrained()).PretrainedConfig(t.Context(), "facebook/bart-base")
		require.NoError(t, err)
		assert.Equal(t, "bart", cfg.ModelType)
	})
}

func TestHub_LoadTokenizer(t *testing.T) {
	t.Run("Should read a WordPiece vocab.txt with its special tokens map", func(t *testing.T) {
		remote := newFakeRemote(map[string][]byte{
			"bert-base-cased/vocab.txt":               []byte("[PAD]\n[unused0]\n[UNK]\n[CLS]\n[SEP]\nhello\n"),
			"bert-base-cased/special_tokens_map.json": []byte(`{"unk_token":"[UNK]","sep_token":"[SEP]","pad_token":"[PAD]","cls_token":"[CLS]"}`),
		})
		h, _ := newTestHub(t, remote)
		tok, err := h.LoadTokenizer(t.Context(), "bert-base-cased")
		require.NoError(t, err)
		assert.Equal(t, 5, tok.Vocab()["hello"])
		assert.Equal(t, 1, tok.Vocab()["[unused0]"])
		assert.Equal(t, []int{0, 2, 3, 4}, tok.SpecialIDs())
		assert.Equal(t, 0, tok.PadID())
	})
	t.Run("Should read a Unigram tokenizer.json with added tokens", func(t *testing.T) {
		remote := newFakeRemote(map[string][]byte{
			"t5/tokenizer.json": []byte(`{
			  "added_tokens": [
			    {"id": 0, "content": "<pad>", "special": true},
			    {"id": 1, "content": "</s>", "special": true},
			    {"id": 4, "content": "<extra_id_0>", "special": false}
			  ],
			  "model": {"type": "Unigram", "vocab": [["<pad>", 0], ["</s>", 0], ["<unk>", 0], ["▁the", -3.1]]}
			}`),
		})
		h, _ := newTestHub(t, remote)
		tok, err := h.LoadTokenizer(t.Context(), "t5")
		require.NoError(t, err)
		assert.Equal(t, 3, tok.Vocab()["▁the"])
		assert.Equal(t, 4, tok.Vocab()["<extra_id_0>"])
		assert.Equal(t, []int{0, 1}, tok.SpecialIDs())
		assert.Equal(t, 0, tok.PadID())
	})
	t.Run("Should read object special tokens from a BPE tokenizer", func(t *testing.T) {
		remote := newFakeRemote(map[string][]byte{
			"bart/tokenizer.json":          []byte(`{"model": {"type": "BPE", "vocab": {"<s>": 0, "<pad>": 1, "</s>": 2, "Ġa": 3}}}`),
			"bart/special_tokens_map.json": []byte(`{"bos_token": {"content": "<s>"}, "pad_token": {"content": "<pad>"}, "additional_special_tokens": ["</s>"]}`),
		})
		h, _ := newTestHub(t, remote)
		tok, err := h.LoadTokenizer(t.Context(), "bart")
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2}, tok.SpecialIDs())
		assert.Equal(t, 1, tok.PadID())
	})
	t.Run("Should fail without any vocabulary file", func(t *testing.T) {
		h, _ := newTestHub(t, newFakeRemote(nil))
		_, err := h.LoadTokenizer(t.Context(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func safetensorsBytes(t *testing.T, tensors map[string]*tensor.Tensor) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, tensor.WriteSafetensors(&buf, tensors))
	return buf.Bytes()
}

func TestHub_LoadModel(t *testing.T) {
	table := &tensor.Tensor{Shape: []int{3, 2}, Data: []float64{1, 2, 3, 4, 5, 6}}
	t.Run("Should find the embedding weight under the family prefix", func(t *testing.T) {
		remote := newFakeRemote(map[string][]byte{
			"bert-base-cased/model.safetensors": safetensorsBytes(t, map[string]*tensor.Tensor{
				"bert.embeddings.word_embeddings.weight": table,
				"bert.pooler.dense.bias":                 {Shape: []int{2}, Data: []float64{0, 0}},
			}),
		})
		h, _ := newTestHub(t, remote)
		strategy, err := encoder.StrategyFor(encoder.Bert)
		require.NoError(t, err)
		m, err := h.LoadModel(t.Context(), "bert-base-cased", strategy)
		require.NoError(t, err)
		assert.Equal(t, 2, m.HiddenSize())
		assert.Equal(t, 6.0, m.EmbeddingTable().At(2, 1))
		_, err = m.Forward(t.Context(), [][]int{{0}}, [][]int{{1}})
		assert.ErrorIs(t, err, ErrNoInferenceBackend)
	})
	t.Run("Should fall back to the shared embedding of t5 checkpoints", func(t *testing.T) {
		remote := newFakeRemote(map[string][]byte{
			"t5/model.safetensors": safetensorsBytes(t, map[string]*tensor.Tensor{"shared.weight": table}),
		})
		h, _ := newTestHub(t, remote)
		strategy, err := encoder.StrategyFor(encoder.T5)
		require.NoError(t, err)
		m, err := h.LoadModel(t.Context(), "t5", strategy)
		require.NoError(t, err)
		rows, cols := m.EmbeddingTable().Dims()
		assert.Equal(t, [2]int{3, 2}, [2]int{rows, cols})
	})
	t.Run("Should fail when the weight is absent", func(t *testing.T) {
		remote := newFakeRemote(map[string][]byte{
			"bert/model.safetensors": safetensorsBytes(t, map[string]*tensor.Tensor{"other": table}),
		})
		h, _ := newTestHub(t, remote)
		strategy, err := encoder.StrategyFor(encoder.Bert)
		require.NoError(t, err)
		_, err = h.LoadModel(t.Context(), "bert", strategy)
		assert.ErrorContains(t, err, "embeddings.word_embeddings.weight")
	})
}

func TestHub_Download(t *testing.T) {
	t.Run("Should cache required and available optional files", func(t *testing.T) {
		remote := newFakeRemote(map[string][]byte{
			"bert-base-cased/config.json":       []byte(bertConfigJSON),
			"bert-base-cased/model.safetensors": []byte("weights"),
			"bert-base-cased/vocab.txt":         []byte("[PAD]\n"),
		})
		h, fs := newTestHub(t, remote)
		names, err := h.Download(t.Context(), "bert-base-cased")
		require.NoError(t, err)
		assert.Equal(t, []string{"config.json", "model.safetensors", "vocab.txt"}, names)
		ok, err := afero.Exists(fs, "/cache/bert-base-cased/model.safetensors")
		require.NoError(t, err)
		assert.True(t, ok)
	})
	t.Run("Should fail when a required file is missing", func(t *testing.T) {
		remote := newFakeRemote(map[string][]byte{"x/config.json": []byte(bertConfigJSON)})
		h, _ := newTestHub(t, remote)
		_, err := h.Download(t.Context(), "x")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestHub_LocalDirectory(t *testing.T) {
	t.Run("Should read a local model directory in place without the network", func(t *testing.T) {
		remote := newFakeRemote(nil)
		h, fs := newTestHub(t, remote)
		require.NoError(t, afero.WriteFile(fs, "/models/my-bert/config.json", []byte(bertConfigJSON), 0o644))
		cfg, err := h.PretrainedConfig(t.Context(), "/models/my-bert")
		require.NoError(t, err)
		assert.Equal(t, 768, cfg.HiddenSize)
		assert.Empty(t, remote.hits)
		ok, err := afero.DirExists(fs, "/cache/models")
		require.NoError(t, err)
		assert.False(t, ok)
	})
	t.Run("Should report missing local files as ErrNotFound", func(t *testing.T) {
		h, _ := newTestHub(t, newFakeRemote(nil))
		_, err := h.PretrainedConfig(t.Context(), "/models/absent")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestHub_Tracing(t *testing.T) {
	spanAttr := func(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
		for _, kv := range span.Attributes() {
			if kv.Key == key {
				return kv.Value, true
			}
		}
		return attribute.Value{}, false
	}
	t.Run("Should record a span per fetch marking cache hits", func(t *testing.T) {
		recorder := tracetest.NewSpanRecorder()
		provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
		remote := newFakeRemote(map[string][]byte{"bert-base-cased/vocab.txt": []byte("[PAD]\nhello\n")})
		h, _ := newTestHub(t, remote, WithTracer(provider.Tracer("test")))
		_, err := h.fetch(t.Context(), "bert-base-cased", "vocab.txt")
		require.NoError(t, err)
		_, err = h.fetch(t.Context(), "bert-base-cased", "vocab.txt")
		require.NoError(t, err)

		spans := recorder.Ended()
		require.Len(t, spans, 2)
		for i, want := range []bool{false, true} {
			assert.Equal(t, "tencdm.hub.fetch", spans[i].Name())
			cached, ok := spanAttr(spans[i], "cached")
			require.True(t, ok)
			assert.Equal(t, want, cached.AsBool())
			model, ok := spanAttr(spans[i], "model")
			require.True(t, ok)
			assert.Equal(t, "bert-base-cased", model.AsString())
		}
	})
	t.Run("Should mark failed fetches as errors", func(t *testing.T) {
		recorder := tracetest.NewSpanRecorder()
		provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
		h, _ := newTestHub(t, newFakeRemote(nil), WithTracer(provider.Tracer("test")))
		_, err := h.fetch(t.Context(), "nobody/nothing", "config.json")
		require.ErrorIs(t, err, ErrNotFound)
		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status().Code)
	})
}
