package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tencdm/tencdm/cli/helpers"
	"github.com/tencdm/tencdm/engine/tensor"
)

// runCLI executes the root command offline against cacheDir and returns stdout.
func runCLI(t *testing.T, cacheDir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("TENCDM_DEVICE_NAME", "NVIDIA A100-SXM4-80GB")
	t.Setenv("SLURM_JOB_ID", "7")
	if cacheDir == "" {
		cacheDir = t.TempDir()
	}
	cmd := RootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	// The caller's flags come last so they win over these defaults.
	base := []string{"--env-file=", "--offline", "--hub-cache=" + cacheDir, "--log-level=disabled"}
	cmd.SetArgs(append(base, args...))
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func showJSON(t *testing.T, args ...string) map[string]any {
	t.Helper()
	out, err := runCLI(t, "", append([]string{"config", "show", "--format", "json"}, args...)...)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	return doc
}

func section(t *testing.T, doc map[string]any, name string) map[string]any {
	t.Helper()
	s, ok := doc[name].(map[string]any)
	require.True(t, ok, "missing section %s", name)
	return s
}

func TestConfigShow(t *testing.T) {
	t.Run("Should print defaults with the builtin encoder config when offline", func(t *testing.T) {
		doc := showJSON(t)
		assert.Equal(t, 512.0, section(t, doc, "training")["batch_size"])
		assert.Equal(t, "google-bert/bert-base-cased", section(t, doc, "model")["encoder_link"])
		assert.Equal(t, "sdpa", section(t, doc, "se_config")["_attn_implementation"])
	})
	t.Run("Should apply argument flags", func(t *testing.T) {
		doc := showJSON(t, "--batch-size", "256", "-d", "qqp", "--run-name", "trial")
		assert.Equal(t, 256.0, section(t, doc, "training")["batch_size"])
		assert.Contains(t, section(t, doc, "training")["checkpoints_prefix"], "-qqp-trial-7")
	})
	t.Run("Should apply set overrides over derived values", func(t *testing.T) {
		doc := showJSON(t, "--set", "decoder.max_sequence_len=200", "--set", "seed=3")
		assert.Equal(t, 200.0, section(t, doc, "decoder")["max_sequence_len"])
		assert.Equal(t, 3.0, doc["seed"])
	})
	t.Run("Should apply a YAML file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "overrides.yaml")
		require.NoError(t, os.WriteFile(path, []byte("validation:\n  num_gen_texts: 11\n"), 0o600))
		doc := showJSON(t, "--config", path)
		assert.Equal(t, 11.0, section(t, doc, "validation")["num_gen_texts"])
	})
	t.Run("Should read arguments from an explicit env file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "run.env")
		require.NoError(t, os.WriteFile(path, []byte("TENCDM_BATCH_SIZE=128\n"), 0o600))
		t.Cleanup(func() { _ = os.Unsetenv("TENCDM_BATCH_SIZE") })
		doc := showJSON(t, "--env-file", path)
		assert.Equal(t, 128.0, section(t, doc, "training")["batch_size"])
	})
	t.Run("Should fail on a missing explicit env file", func(t *testing.T) {
		_, err := runCLI(t, "", "config", "show", "--env-file", filepath.Join(t.TempDir(), "nope.env"))
		assert.ErrorContains(t, err, "env file")
	})
	t.Run("Should render YAML and table formats", func(t *testing.T) {
		out, err := runCLI(t, "", "config", "show", "--format", "yaml")
		require.NoError(t, err)
		var doc map[string]any
		require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
		assert.Contains(t, doc, "training")

		out, err = runCLI(t, "", "config", "show", "--format", "table")
		require.NoError(t, err)
		assert.Contains(t, out, "KEY")
		assert.Contains(t, out, "training.batch_size")
	})
	t.Run("Should reject unknown formats", func(t *testing.T) {
		_, err := runCLI(t, "", "config", "show", "--format", "xml")
		assert.ErrorIs(t, err, helpers.ErrUnsupportedFormat)
	})
	t.Run("Should reject malformed overrides", func(t *testing.T) {
		_, err := runCLI(t, "", "config", "show", "--set", "seed")
		assert.ErrorIs(t, err, helpers.ErrInvalidOverride)
	})
}

func TestConfigValidate(t *testing.T) {
	t.Run("Should report a valid configuration", func(t *testing.T) {
		out, err := runCLI(t, "", "config", "validate")
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration is valid")
	})
	t.Run("Should report build failures as JSON and still fail", func(t *testing.T) {
		out, err := runCLI(t, "", "config", "validate", "--json", "--set", "decoder.max_sequence_len=8")
		require.Error(t, err)
		var result map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		assert.Equal(t, false, result["valid"])
		assert.Contains(t, result["message"], "decoder.max_sequence_len")
	})
	t.Run("Should fail other commands on an invalid configuration", func(t *testing.T) {
		_, err := runCLI(t, "", "config", "show", "--set", "decoder.max_sequence_len=8")
		assert.ErrorContains(t, err, "decoder.max_sequence_len")
	})
}

// cachedBertRepo is where the hub caches the default encoder link.
func cachedBertRepo(dir string) string {
	return filepath.Join(dir, "google-bert", "bert-base-cased")
}

// writeCachedBert lays out a tiny bert checkpoint in the hub cache.
func writeCachedBert(t *testing.T, dir string) {
	t.Helper()
	repo := cachedBertRepo(dir)
	require.NoError(t, os.MkdirAll(repo, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "vocab.txt"),
		[]byte("[PAD]\n[unused0]\n[UNK]\n[CLS]\n[SEP]\nhello\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "special_tokens_map.json"),
		[]byte(`{"pad_token":"[PAD]","unk_token":"[UNK]","cls_token":"[CLS]","sep_token":"[SEP]"}`), 0o600))
	var buf bytes.Buffer
	require.NoError(t, tensor.WriteSafetensors(&buf, map[string]*tensor.Tensor{
		"bert.embeddings.word_embeddings.weight": {
			Shape: []int{6, 2},
			Data:  []float64{0, 1, 2, 3, 4, 7, 1, 0, 3, 3, 5, 2},
		},
	}))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "model.safetensors"), buf.Bytes(), 0o600))
}

func TestEncoderInspect(t *testing.T) {
	t.Run("Should report a direct adapter with statistics", func(t *testing.T) {
		cache := t.TempDir()
		writeCachedBert(t, cache)
		out, err := runCLI(t, cache, "encoder", "inspect", "--json", "--emb")
		require.NoError(t, err)
		var report map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Equal(t, "bert", report["family"])
		assert.Equal(t, "direct", report["mode"])
		assert.Equal(t, 2.0, report["hidden_size"])
		assert.Equal(t, 6.0, report["table_rows"])
		assert.Equal(t, 5.0, report["used_ids"])
		assert.Equal(t, "features", report["aggregation"])
		assert.Len(t, report["mean_preview"], 2)
	})
	t.Run("Should print a delegated adapter as a table", func(t *testing.T) {
		cache := t.TempDir()
		writeCachedBert(t, cache)
		out, err := runCLI(t, cache, "encoder", "inspect")
		require.NoError(t, err)
		assert.Contains(t, out, "delegated")
		assert.NotContains(t, out, "aggregation")
	})
	t.Run("Should fail when the checkpoint is not cached", func(t *testing.T) {
		_, err := runCLI(t, "", "encoder", "inspect")
		assert.ErrorContains(t, err, "failed to build encoder adapter")
	})
}

func TestHubDownload(t *testing.T) {
	t.Run("Should list cached files of the configured encoder", func(t *testing.T) {
		cache := t.TempDir()
		writeCachedBert(t, cache)
		require.NoError(t, os.WriteFile(filepath.Join(cachedBertRepo(cache), "config.json"), []byte(`{"model_type": "bert", "vocab_size": 28996, "hidden_size": 768, "num_attention_heads": 12, "num_hidden_layers": 12}`), 0o600))
		out, err := runCLI(t, cache, "hub", "download")
		require.NoError(t, err)
		assert.Equal(t, "google-bert/bert-base-cased: config.json, model.safetensors, special_tokens_map.json, vocab.txt\n", out)
	})
	t.Run("Should fail offline for uncached models", func(t *testing.T) {
		_, err := runCLI(t, "", "hub", "download", "facebook/bart-base")
		assert.ErrorContains(t, err, "facebook/bart-base")
	})
}
