package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tencdm/tencdm/engine/device"
	"github.com/tencdm/tencdm/pkg/config/definition"
	"github.com/tencdm/tencdm/pkg/logger"
)

const (
	argsPrefix = "args."
	tracerName = "tencdm.config"
)

// Option customises Build.
type Option func(*builder)

// WithEnvLookup replaces os.LookupEnv for every environment read made by Build.
func WithEnvLookup(lookup func(string) (string, bool)) Option {
	return func(b *builder) {
		if lookup != nil {
			b.lookupEnv = lookup
		}
	}
}

// WithModelConfigProvider sets where pretrained model configs are read from.
func WithModelConfigProvider(p PretrainedConfigProvider) Option {
	return func(b *builder) {
		if p != nil {
			b.models = p
		}
	}
}

// WithDeviceQuery sets how the accelerator name is discovered.
func WithDeviceQuery(q device.Query) Option {
	return func(b *builder) {
		if q != nil {
			b.device = q
		}
	}
}

// WithWorkDir sets the directory checkpoints, datasets and generated texts live under.
func WithWorkDir(dir string) Option {
	return func(b *builder) {
		b.workDir = dir
	}
}

// WithTracer sets the tracer the build span is recorded on.
func WithTracer(tracer trace.Tracer) Option {
	return func(b *builder) {
		if tracer != nil {
			b.tracer = tracer
		}
	}
}

// WithSources layers additional sources, such as YAML files, over the defaults.
// Later sources take precedence.
func WithSources(sources ...Source) Option {
	return func(b *builder) {
		for _, s := range sources {
			if s != nil {
				b.sources = append(b.sources, s)
			}
		}
	}
}

// WithOverrides layers explicit dot-path overrides over every other source.
func WithOverrides(values map[string]any) Option {
	return func(b *builder) {
		if len(values) > 0 {
			b.overrides = append(b.overrides, NewOverrideProvider(values))
		}
	}
}

type builder struct {
	lookupEnv func(string) (string, bool)
	models    PretrainedConfigProvider
	device    device.Query
	tracer    trace.Tracer
	workDir   string
	sources   []Source
	overrides []Source

	koanf    *koanf.Koanf
	origin   map[string]SourceType
	explicit []map[string]any
}

// document is the layered view decoded before derivation: the arguments under
// "args" and every registry section at the top level.
type document struct {
	Args   Args `koanf:"args"`
	Config `koanf:",squash"`
}

// Build derives the complete configuration from args. Registry defaults are
// layered with args, then any sources and overrides. Explicit values of fields
// that derivation reads, such as dynamic.scheduler or model.encoder_name, are
// merged into the arguments first so derived fields agree with them. Explicit
// sources are then re-applied on top, so each field can be overridden. Defaults expressed per accumulation step are scaled
// by training.accum_batch_steps unless set explicitly.
func Build(ctx context.Context, args Args, opts ...Option) (cfg *Config, err error) {
	b := &builder{
		lookupEnv: os.LookupEnv,
		models:    BuiltinPretrained(),
		tracer:    otel.Tracer(tracerName),
		koanf:     koanf.New("."),
		origin:    make(map[string]SourceType),
	}
	for _, opt := range opts {
		opt(b)
	}
	ctx, span := b.tracer.Start(ctx, "tencdm.config.build", trace.WithAttributes(
		attribute.String("encoder_name", args.EncoderName),
		attribute.String("dataset", args.DatasetName),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.String("encoder_link", cfg.Model.EncoderLink),
				attribute.String("checkpoints_prefix", cfg.Training.CheckpointsPrefix),
			)
		}
		span.End()
	}()
	if b.device == nil {
		b.device = device.FromEnv(b.lookupEnv, device.NewNvidiaSMI(b.lookupEnv))
	}
	if b.workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		b.workDir = wd
	}
	return b.build(ctx, args)
}

func (b *builder) build(ctx context.Context, args Args) (*Config, error) {
	log := logger.FromContext(ctx)
	if err := b.layer(args); err != nil {
		return nil, err
	}
	if err := b.scalePerAccumStep(); err != nil {
		return nil, err
	}
	var doc document
	if err := b.koanf.UnmarshalWithConf("", &doc, unmarshalConf(&doc)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	merged, err := b.mergeDerivationInputs(doc.Args)
	if err != nil {
		return nil, err
	}
	cfg := doc.Config
	b.seed(&cfg, merged)
	b.resolveEncoder(&cfg, merged)
	if err := b.deriveData(&cfg, merged); err != nil {
		return nil, err
	}
	b.deriveDecoder(&cfg, merged)
	if err := b.deriveSearchEncoder(ctx, &cfg); err != nil {
		return nil, err
	}
	b.deriveCheckpointPrefix(&cfg, merged)
	final, err := b.reapplyExplicit(&cfg)
	if err != nil {
		return nil, err
	}
	if err := b.validate(final, &merged); err != nil {
		return nil, err
	}
	log.Debug("Configuration built",
		"encoder_link", final.Model.EncoderLink,
		"dataset", final.TrackedDataset,
		"checkpoints_prefix", final.Training.CheckpointsPrefix,
		"attn_implementation", final.SEConfig.AttnImplementation,
	)
	return final, nil
}

// layer loads registry defaults, the arguments and every explicit source,
// recording which source provided each key.
func (b *builder) layer(args Args) error {
	registry := definition.CreateRegistry()
	if err := b.koanf.Load(rawMap(registry.Defaults()), nil); err != nil {
		return fmt.Errorf("failed to load defaults: %w", err)
	}
	for _, key := range b.koanf.Keys() {
		b.origin[key] = SourceDefault
	}
	wrapped := struct {
		Args Args `koanf:"args"`
	}{Args: args}
	if err := b.koanf.Load(structs.Provider(wrapped, "koanf"), nil); err != nil {
		return fmt.Errorf("failed to load arguments: %w", err)
	}
	for _, key := range b.koanf.Keys() {
		if strings.HasPrefix(key, argsPrefix) {
			b.origin[key] = SourceArgs
		}
	}
	for _, source := range append(append([]Source{}, b.sources...), b.overrides...) {
		if err := b.loadSource(source); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) loadSource(source Source) error {
	data, err := source.Load()
	if err != nil {
		return fmt.Errorf("failed to load from source %s: %w", source.Type(), err)
	}
	if len(data) == 0 {
		return nil
	}
	flattened := flattenMap("", data)
	for key, value := range flattened {
		if err := b.koanf.Set(key, value); err != nil {
			return fmt.Errorf("failed to set key %s from source %s: %w", key, source.Type(), err)
		}
		b.origin[key] = source.Type()
	}
	b.explicit = append(b.explicit, flattened)
	return nil
}

// derivationInputs maps configuration keys that derived values are computed
// from to the argument they are seeded from.
var derivationInputs = map[string]string{
	"training.step_unrolled":    "step_unrolled",
	"training.train_embeddings": "train_embeddings",
	"training.x_T_coef":         "x_T_coef",
	"training.nll_coef":         "nll_coef",
	"dynamic.scheduler":         "scheduler",
	"dynamic.coef_d":            "coef_d",
	"dynamic.delta":             "delta",
	"dynamic.sigma_min":         "sigma_min",
	"dynamic.sigma_max":         "sigma_max",
	"model.encoder_name":        "encoder_name",
	"model.encoder_link":        "encoder_link",
	"data.swap_cfg_coef":        "swap_cfg_coef",
	"emb":                       "emb",
	"emb_statistics_agg_type":   "emb_statistics_agg_type",
	"embeddings_path":           "embeddings_path",
	"cluster_diffusion":         "cluster_diffusion",
	"random_init_embeddings":    "random_init_embeddings",
	"project_name":              "project_name",
}

// mergeDerivationInputs returns args with every explicitly set derivation input
// folded in, so derived values follow the override instead of contradicting it.
func (b *builder) mergeDerivationInputs(args Args) (Args, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(args, "koanf"), nil); err != nil {
		return Args{}, fmt.Errorf("failed to load arguments: %w", err)
	}
	merged := false
	for key, arg := range derivationInputs {
		if !b.isExplicit(key) {
			continue
		}
		if err := k.Set(arg, b.koanf.Get(key)); err != nil {
			return Args{}, fmt.Errorf("failed to merge %s: %w", key, err)
		}
		merged = true
	}
	if !merged {
		return args, nil
	}
	var out Args
	if err := k.UnmarshalWithConf("", &out, unmarshalConf(&out)); err != nil {
		return Args{}, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}
	return out, nil
}

// isExplicit reports whether key was set by a source or override rather than
// the defaults or the arguments.
func (b *builder) isExplicit(key string) bool {
	src := b.sourceOf(key)
	return src != SourceDefault && src != SourceArgs
}

// sourceOf reports which layer provided key.
func (b *builder) sourceOf(key string) SourceType {
	if src, ok := b.origin[key]; ok {
		return src
	}
	return SourceDefault
}

func (b *builder) scalePerAccumStep() error {
	accum := b.koanf.Int("training.accum_batch_steps")
	if accum < 1 {
		return NewValidationError("training.accum_batch_steps", fmt.Sprintf("must be at least 1 (got %d)", accum))
	}
	for _, field := range definition.CreateRegistry().Sorted() {
		if !field.PerAccumStep || b.sourceOf(field.Path) != SourceDefault {
			continue
		}
		if err := b.koanf.Set(field.Path, b.koanf.Int(field.Path)*accum); err != nil {
			return fmt.Errorf("failed to scale %s: %w", field.Path, err)
		}
	}
	return nil
}

// seed copies the argument-driven values into their sections.
func (b *builder) seed(cfg *Config, args Args) {
	cfg.WorkDir = b.workDir

	cfg.Training.BatchSize = args.BatchSize / cfg.Training.AccumBatchSteps
	cfg.Training.CheckpointsFolder = filepath.Join(b.workDir, "checkpoints") + string(filepath.Separator)
	cfg.Training.StepUnrolled = args.StepUnrolled
	cfg.Training.TrainEmbeddings = args.TrainEmbeddings
	cfg.Training.XTCoef = args.XTCoef
	cfg.Training.NLLCoef = args.NLLCoef

	cfg.Validation.TextsPath = filepath.Join(b.workDir, "generated_texts")

	cfg.Dynamic.Scheduler = args.Scheduler
	cfg.Dynamic.CoefD = args.CoefD
	cfg.Dynamic.Delta = args.Delta
	cfg.Dynamic.SigmaMin = args.SigmaMin
	cfg.Dynamic.SigmaMax = args.SigmaMax

	cfg.Emb = args.Emb
	cfg.EmbStatisticsAggType = args.EmbStatisticsAggType
	cfg.EmbeddingsPath = args.EmbeddingsPath
	cfg.ClusterDiffusion = args.ClusterDiffusion
	cfg.RandomInitEmbeddings = args.RandomInitEmbeddings
	cfg.ProjectName = args.ProjectName
}

func (b *builder) resolveEncoder(cfg *Config, args Args) {
	cfg.Model.EncoderName = args.EncoderName
	cfg.Model.EncoderLink, _ = ResolveEncoderLink(args.EncoderName, args.EncoderLink)
	cfg.Model.ConditionalEncoderName = cfg.Model.EncoderName
	cfg.Model.EncoderNameHash = NameHash(cfg.Model.EncoderName)
	cfg.Model.ConditionalEncoderNameHash = NameHash(cfg.Model.ConditionalEncoderName)
}

func (b *builder) deriveData(cfg *Config, args Args) error {
	data := &cfg.Data
	if len(data.Datasets.DatasetsList) == 0 {
		ds := DefaultDataset
		if args.DatasetName != "" {
			ds = args.DatasetName
		}
		data.Datasets.DatasetsList = []string{ds}
	}
	if data.Datasets.DatasetsList[0] == "" {
		return NewValidationError("data.datasets.datasets_list", "first dataset must be named")
	}
	ds0 := data.Datasets.DatasetsList[0]
	data.Datasets.Metrics = DatasetMetrics()
	data.BasePath = filepath.Join(b.workDir, "datasets")

	var err error
	if data.MaxSequenceLen, err = SequenceLen(ds0); err != nil {
		return err
	}
	if data.MaxContextLen, err = ContextLen(ds0); err != nil {
		return err
	}
	data.SwapCfgCoef = args.SwapCfgCoef
	statistics := filepath.Join(data.BasePath, ds0, "statistics")
	data.EncGenMean = filepath.Join(statistics, "encodings-"+cfg.Model.EncoderNameHash+"-mean.pt")
	data.EncGenStd = filepath.Join(statistics, "encodings-"+cfg.Model.EncoderNameHash+"-std.pt")

	cfg.IsConditional = IsConditional(ds0)
	cfg.TrackedDataset = ds0
	if cfg.TrackedMetric, err = TrackedMetric(data.Datasets.Metrics, ds0); err != nil {
		return err
	}
	return nil
}

func (b *builder) deriveDecoder(cfg *Config, args Args) {
	ds0 := cfg.Data.Datasets.DatasetsList[0]
	dec := &cfg.Decoder
	dec.Dataset = ds0
	// an explicit decoder.name is used verbatim
	if !b.isExplicit("decoder.name") {
		dec.Name = args.DecoderName
		if dec.Name == "" {
			dec.Name = "decoder-" + cfg.Model.EncoderNameHash + "-transformer"
		}
		dec.Name += dec.Suffix
	}
	dec.IsConditional = cfg.IsConditional
	dec.DecoderPath = filepath.Join(cfg.Data.BasePath, ds0, dec.Name+".pth")
}

func (b *builder) deriveSearchEncoder(ctx context.Context, cfg *Config) error {
	if cfg.Model.EncoderLink == "" {
		return fmt.Errorf("%w: encoder name %q matches no known family", ErrUnresolvedEncoder, cfg.Model.EncoderName)
	}
	base, err := b.models.PretrainedConfig(ctx, searchEncoderBase)
	if err != nil {
		return fmt.Errorf("failed to load %s config: %w", searchEncoderBase, err)
	}
	encoder, err := b.models.PretrainedConfig(ctx, cfg.Model.EncoderLink)
	if err != nil {
		return fmt.Errorf("failed to load %s config: %w", cfg.Model.EncoderLink, err)
	}
	if base.NumAttentionHeads == 0 {
		return NewValidationError("se_config.num_attention_heads", "must be positive")
	}
	deviceName, err := b.device.DeviceName(ctx)
	if err != nil {
		return fmt.Errorf("failed to query device name: %w", err)
	}
	se := SEConfig{PretrainedConfig: *base}
	se.AttentionHeadSize = float64(base.HiddenSize) / float64(base.NumAttentionHeads)
	se.IsConditional = cfg.IsConditional
	se.VocabSize = encoder.VocabSize
	se.UseSelfCond = cfg.UseSelfCond
	se.AttnImplementation = device.AttnImplementation(deviceName)
	cfg.SEConfig = se
	return nil
}

func (b *builder) deriveCheckpointPrefix(cfg *Config, args Args) {
	jobID, ok := b.lookupEnv(JobIDEnvVar)
	if !ok {
		jobID = missingJobID
	}
	pref := preferenceTag(cfg.Emb, cfg.EmbeddingsPath, cfg.Dynamic, cfg.Training.StepUnrolled)
	cfg.Training.CheckpointsPrefix = CheckpointPrefix(pref, cfg.Data.Datasets.DatasetsList[0], args.RunName, jobID)
}

// reapplyExplicit layers every explicit source over the derived configuration.
func (b *builder) reapplyExplicit(cfg *Config) (*Config, error) {
	if len(b.explicit) == 0 {
		return cfg, nil
	}
	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load derived configuration: %w", err)
	}
	for _, layer := range b.explicit {
		for key, value := range layer {
			if strings.HasPrefix(key, argsPrefix) {
				continue
			}
			if err := k.Set(key, value); err != nil {
				return nil, fmt.Errorf("failed to re-apply %s: %w", key, err)
			}
		}
	}
	var final Config
	if err := k.UnmarshalWithConf("", &final, unmarshalConf(&final)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return &final, nil
}

func (b *builder) validate(cfg *Config, args *Args) error {
	v, err := newValidator()
	if err != nil {
		return err
	}
	if err := validateStruct(v, args, argsPrefix); err != nil {
		return err
	}
	if err := validateCustom(cfg); err != nil {
		return err
	}
	return validateStruct(v, cfg, "")
}
