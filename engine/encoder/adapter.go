package encoder

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tencdm/tencdm/engine/tensor"
	"github.com/tencdm/tencdm/pkg/config"
	"github.com/tencdm/tencdm/pkg/logger"
)

// Mode is fixed when an adapter is built.
type Mode int

const (
	// Delegated runs the pretrained model and post-processes its hidden states.
	Delegated Mode = iota
	// Direct gathers rows of the embedding table.
	Direct
)

func (m Mode) String() string {
	if m == Direct {
		return "direct"
	}
	return "delegated"
}

// Model is a loaded pretrained encoder.
type Model interface {
	// EmbeddingTable returns the input embedding weights, one row per token id.
	EmbeddingTable() *mat.Dense
	HiddenSize() int
	// Forward returns the hidden states selected by the load strategy.
	Forward(ctx context.Context, ids, mask [][]int) (*tensor.Batch, error)
}

// ModelProvider loads pretrained encoders.
type ModelProvider interface {
	LoadModel(ctx context.Context, link string, strategy Strategy) (Model, error)
}

// Tokenizer exposes the vocabulary facts the adapter relies on.
type Tokenizer interface {
	Vocab() map[string]int
	SpecialIDs() []int
	PadID() int
}

// TokenizerProvider loads tokenizers.
type TokenizerProvider interface {
	LoadTokenizer(ctx context.Context, link string) (Tokenizer, error)
}

// Normalizer rescales hidden states, typically with precomputed dataset statistics.
type Normalizer interface {
	Normalize(ctx context.Context, hidden *tensor.Batch) (*tensor.Batch, error)
}

// Config selects the embedding source and post-processing of an adapter.
type Config struct {
	Link string
	// Emb serves normalized table rows instead of running the model.
	Emb            bool
	EmbeddingsPath string
	Aggregation    string
	RandomInit     bool
	// ChangeSpecialTokens replaces hidden states of special tokens in delegated mode.
	ChangeSpecialTokens bool
}

// ConfigFrom extracts the adapter settings of a built configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Link:                cfg.Model.EncoderLink,
		Emb:                 cfg.Emb,
		EmbeddingsPath:      cfg.EmbeddingsPath,
		Aggregation:         cfg.EmbStatisticsAggType,
		RandomInit:          cfg.RandomInitEmbeddings,
		ChangeSpecialTokens: true,
	}
}

// Deps are the collaborators an adapter is built from. Models and Tokenizers
// are required; the rest have defaults.
type Deps struct {
	Models     ModelProvider
	Tokenizers TokenizerProvider
	Normalizer Normalizer
	// Fs resolves the embeddings file. Defaults to the OS filesystem.
	Fs afero.Fs
	// Rand seeds random table initialisation. Defaults to a time-seeded source.
	Rand rand.Source
	// Metrics defaults to instruments on the global meter provider.
	Metrics *Recorder
	// Tracer defaults to the global tracer provider.
	Tracer trace.Tracer
}

// Adapter produces per-token latent representations. Encode must not run
// concurrently with RecomputeStatistics.
type Adapter struct {
	cfg        Config
	strategy   Strategy
	mode       Mode
	model      Model
	tokenizer  Tokenizer
	normalizer Normalizer
	metrics    *Recorder
	tracer     trace.Tracer

	table       *mat.Dense
	hiddenSize  int
	aggregation Aggregation
	stats       *Statistics
	usedIDs     []int
	specialIDs  map[int]struct{}
	padID       int
	zero        []float64
}

// New loads the model and tokenizer for cfg.Link and prepares the embedding table.
func New(ctx context.Context, cfg Config, deps Deps) (_ *Adapter, err error) {
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	ctx, span := tracer.Start(ctx, "tencdm.encoder.new", trace.WithAttributes(
		attribute.String("link", cfg.Link),
		attribute.Bool("emb", cfg.Emb),
	))
	defer func() { endSpan(span, err) }()
	log := logger.FromContext(ctx)
	if deps.Models == nil || deps.Tokenizers == nil {
		return nil, fmt.Errorf("encoder: model and tokenizer providers are required")
	}
	family := Classify(cfg.Link)
	strategy, err := StrategyFor(family)
	if err != nil {
		return nil, fmt.Errorf("encoder %q: %w", cfg.Link, err)
	}
	var agg Aggregation
	if cfg.Emb {
		if agg, err = ParseAggregation(cfg.Aggregation); err != nil {
			return nil, err
		}
	}
	a := &Adapter{
		cfg:         cfg,
		strategy:    strategy,
		normalizer:  deps.Normalizer,
		metrics:     deps.Metrics,
		tracer:      tracer,
		aggregation: agg,
	}
	if a.metrics == nil {
		a.metrics = defaultRecorder()
	}
	if cfg.Emb || cfg.EmbeddingsPath != "" || cfg.RandomInit {
		a.mode = Direct
	}
	if a.model, err = deps.Models.LoadModel(ctx, cfg.Link, strategy); err != nil {
		return nil, fmt.Errorf("failed to load encoder %s: %w", cfg.Link, err)
	}
	if a.tokenizer, err = deps.Tokenizers.LoadTokenizer(ctx, cfg.Link); err != nil {
		return nil, fmt.Errorf("failed to load tokenizer %s: %w", cfg.Link, err)
	}
	a.hiddenSize = a.model.HiddenSize()
	a.table = mat.DenseCopyOf(a.model.EmbeddingTable())
	if cfg.EmbeddingsPath != "" {
		fs := deps.Fs
		if fs == nil {
			fs = afero.NewOsFs()
		}
		if a.table, err = tensor.ReadTable(fs, cfg.EmbeddingsPath); err != nil {
			return nil, err
		}
	}
	if cfg.RandomInit {
		a.table = randomTable(a.table, deps.Rand)
	}
	rows, _ := a.table.Dims()
	if cfg.Emb {
		a.usedIDs = usedIDs(a.tokenizer.Vocab(), rows, strategy.FiltersUnused)
		if a.stats, err = computeStatistics(a.table, a.usedIDs, agg); err != nil {
			return nil, err
		}
		a.stats.apply(a.table)
	}
	a.padID = a.tokenizer.PadID()
	a.specialIDs = make(map[int]struct{})
	for _, id := range a.tokenizer.SpecialIDs() {
		a.specialIDs[id] = struct{}{}
	}
	a.zero = make([]float64, a.hiddenSize)
	span.SetAttributes(attribute.String("mode", a.mode.String()), attribute.Int("rows", rows))
	log.Debug("Encoder adapter ready",
		"link", cfg.Link,
		"family", family.String(),
		"mode", a.mode.String(),
		"rows", rows,
		"aggregation", string(agg),
		"used_ids", len(a.usedIDs),
	)
	return a, nil
}

func randomTable(like *mat.Dense, src rand.Source) *mat.Dense {
	if src == nil {
		seed := uint64(time.Now().UnixNano())
		src = rand.NewPCG(seed, seed>>1)
	}
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	r, c := like.Dims()
	data := make([]float64, r*c)
	for i := range data {
		data[i] = normal.Rand()
	}
	return mat.NewDense(r, c, data)
}

func (a *Adapter) Mode() Mode           { return a.mode }
func (a *Adapter) Family() Family       { return a.strategy.Family }
func (a *Adapter) Strategy() Strategy   { return a.strategy }
func (a *Adapter) HiddenSize() int      { return a.hiddenSize }
func (a *Adapter) Tokenizer() Tokenizer { return a.tokenizer }

// Table returns a copy of the current embedding table.
func (a *Adapter) Table() mat.Matrix { return mat.DenseCopyOf(a.table) }

// UsedIDs returns the rows statistics were computed over; nil outside emb mode.
func (a *Adapter) UsedIDs() []int {
	return append([]int(nil), a.usedIDs...)
}

// Statistics returns a copy of the current normalization statistics, or nil
// outside emb mode.
func (a *Adapter) Statistics() *Statistics {
	if a.stats == nil {
		return nil
	}
	return &Statistics{
		Aggregation: a.stats.Aggregation,
		Mean:        append([]float64(nil), a.stats.Mean...),
		Std:         append([]float64(nil), a.stats.Std...),
	}
}

// RecomputeStatistics recomputes mean and std over the whole current table
// with the stored aggregation mode and normalizes the table again. Each call
// renormalizes an already normalized table; call it at most once.
func (a *Adapter) RecomputeStatistics() error {
	if !a.cfg.Emb {
		return ErrNoStatistics
	}
	stats, err := computeStatistics(a.table, nil, a.aggregation)
	if err != nil {
		return err
	}
	a.stats = stats
	stats.apply(a.table)
	return nil
}

// Encode returns the (batch, seq, hidden) representation of ids. mask is
// forwarded to the model in delegated mode and ignored in direct mode.
func (a *Adapter) Encode(ctx context.Context, ids, mask [][]int) (out *tensor.Batch, err error) {
	start := time.Now()
	ctx, span := a.tracer.Start(ctx, "tencdm.encoder.encode", trace.WithAttributes(
		attribute.String("mode", a.mode.String()),
		attribute.Int("batch", len(ids)),
	))
	defer func() { endSpan(span, err) }()
	b, s, err := batchShape(ids, mask)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("seq", s))
	if a.mode == Direct {
		out, err = a.gather(ids, b, s)
	} else {
		out, err = a.delegate(ctx, ids, mask, b, s)
	}
	if err != nil {
		return nil, err
	}
	a.metrics.recordBatch(ctx, a.mode, a.strategy.Family, b*s, time.Since(start))
	return out, nil
}

func batchShape(ids, mask [][]int) (int, int, error) {
	b := len(ids)
	if b == 0 {
		return 0, 0, fmt.Errorf("%w: empty batch", ErrInvalidInput)
	}
	s := len(ids[0])
	for i, row := range ids {
		if len(row) != s {
			return 0, 0, fmt.Errorf("%w: row %d has length %d, want %d", ErrInvalidInput, i, len(row), s)
		}
	}
	if mask != nil {
		if len(mask) != b {
			return 0, 0, fmt.Errorf("%w: mask has %d rows, want %d", ErrInvalidInput, len(mask), b)
		}
		for i, row := range mask {
			if len(row) != s {
				return 0, 0, fmt.Errorf("%w: mask row %d has length %d, want %d", ErrInvalidInput, i, len(row), s)
			}
		}
	}
	return b, s, nil
}

func (a *Adapter) gather(ids [][]int, b, s int) (*tensor.Batch, error) {
	rows, width := a.table.Dims()
	out := tensor.NewBatch(b, s, width)
	for i, row := range ids {
		for j, id := range row {
			if id < 0 || id >= rows {
				return nil, fmt.Errorf("%w: token id %d outside table of %d rows", ErrInvalidInput, id, rows)
			}
			copy(out.Row(i, j), a.table.RawRowView(id))
		}
	}
	return out, nil
}

func (a *Adapter) delegate(ctx context.Context, ids, mask [][]int, b, s int) (*tensor.Batch, error) {
	hidden, err := a.model.Forward(ctx, ids, mask)
	if err != nil {
		return nil, fmt.Errorf("encoder forward pass failed: %w", err)
	}
	if hidden.B != b || hidden.S != s {
		return nil, fmt.Errorf("encoder returned shape %v for a %dx%d batch", hidden.Shape(), b, s)
	}
	if a.normalizer != nil {
		if hidden, err = a.normalizer.Normalize(ctx, hidden); err != nil {
			return nil, fmt.Errorf("failed to normalize hidden states: %w", err)
		}
	}
	if !a.cfg.ChangeSpecialTokens {
		return hidden, nil
	}
	if hidden.W != a.hiddenSize {
		return nil, fmt.Errorf("encoder returned width %d, want %d", hidden.W, a.hiddenSize)
	}
	rows, _ := a.table.Dims()
	var pads, specials int
	for i, row := range ids {
		for j, id := range row {
			if id == a.padID {
				copy(hidden.Row(i, j), a.zero)
				pads++
				continue
			}
			if _, ok := a.specialIDs[id]; !ok {
				continue
			}
			if id < 0 || id >= rows {
				return nil, fmt.Errorf("%w: special token id %d outside table of %d rows", ErrInvalidInput, id, rows)
			}
			if err := hidden.SetRow(i, j, scaledUnit(a.table.RawRowView(id))); err != nil {
				return nil, err
			}
			specials++
		}
	}
	a.metrics.recordSubstitutions(ctx, pads, specials)
	return hidden, nil
}

// scaledUnit returns v / ||v|| * sqrt(len(v)).
func scaledUnit(v []float64) []float64 {
	out := append([]float64(nil), v...)
	norm := floats.Norm(out, 2)
	if norm == 0 {
		return out
	}
	floats.Scale(math.Sqrt(float64(len(out)))/norm, out)
	return out
}
