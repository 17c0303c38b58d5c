package config

import (
	"github.com/mohae/deepcopy"

	"github.com/tencdm/tencdm/pkg/config/definition"
)

// Args is the small set of command-line arguments every other value is derived from.
// Empty strings stand for "not given" (EncoderLink, DatasetName, EmbeddingsPath, DecoderName).
type Args struct {
	BatchSize            int     `koanf:"batch_size"              validate:"min=1"`
	StepUnrolled         bool    `koanf:"step_unrolled"`
	TrainEmbeddings      bool    `koanf:"train_embeddings"`
	XTCoef               float64 `koanf:"x_T_coef"`
	NLLCoef              float64 `koanf:"nll_coef"`
	Scheduler            string  `koanf:"scheduler"`
	CoefD                int     `koanf:"coef_d"`
	Delta                float64 `koanf:"delta"`
	SigmaMin             float64 `koanf:"sigma_min"`
	SigmaMax             float64 `koanf:"sigma_max"`
	EncoderName          string  `koanf:"encoder_name"            validate:"required"`
	EncoderLink          string  `koanf:"encoder_link"`
	DatasetName          string  `koanf:"dataset_name"`
	SwapCfgCoef          float64 `koanf:"swap_cfg_coef"`
	Emb                  bool    `koanf:"emb"`
	EmbStatisticsAggType string  `koanf:"emb_statistics_agg_type"`
	EmbeddingsPath       string  `koanf:"embeddings_path"`
	ClusterDiffusion     bool    `koanf:"cluster_diffusion"`
	RandomInitEmbeddings bool    `koanf:"random_init_embeddings"`
	DecoderName          string  `koanf:"decoder_name"`
	ProjectName          string  `koanf:"project_name"`
	RunName              string  `koanf:"run_name"`
}

// Config is the fully derived training configuration. It is built once by Build
// and must be treated as read-only; use Clone for per-run variations.
type Config struct {
	WorkDir    string           `koanf:"work_dir"`
	Training   TrainingConfig   `koanf:"training"`
	Optim      OptimConfig      `koanf:"optim"`
	Validation ValidationConfig `koanf:"validation"`
	Dynamic    DynamicConfig    `koanf:"dynamic"`
	Model      ModelConfig      `koanf:"model"`
	Data       DataConfig       `koanf:"data"`
	Decoder    DecoderConfig    `koanf:"decoder"`
	SEConfig   SEConfig         `koanf:"se_config"`

	Finetuning           bool   `koanf:"finetuning"`
	Seed                 int    `koanf:"seed"`
	DDP                  bool   `koanf:"ddp"`
	UseSelfCond          bool   `koanf:"use_self_cond"`
	IsConditional        bool   `koanf:"is_conditional"`
	Emb                  bool   `koanf:"emb"`
	EmbStatisticsAggType string `koanf:"emb_statistics_agg_type"`
	EmbeddingsPath       string `koanf:"embeddings_path"`
	ClusterDiffusion     bool   `koanf:"cluster_diffusion"`
	RandomInitEmbeddings bool   `koanf:"random_init_embeddings"`
	ProjectName          string `koanf:"project_name"`
	Timesteps            string `koanf:"timesteps"`
	Eval                 bool   `koanf:"eval"`
	TrackedDataset       string `koanf:"tracked_dataset" validate:"required"`
	TrackedMetric        string `koanf:"tracked_metric"  validate:"required"`
	HigherBetter         bool   `koanf:"higher_better"`
	SaveTopK             int    `koanf:"save_top_k"      validate:"min=0"`
}

// TrainingConfig contains training loop settings.
type TrainingConfig struct {
	AccumBatchSteps   int     `koanf:"accum_batch_steps"  validate:"min=1"`
	TrainingIters     int     `koanf:"training_iters"     validate:"min=1"`
	CheckpointFreq    int     `koanf:"checkpoint_freq"    validate:"min=1"`
	EvalFreq          int     `koanf:"eval_freq"          validate:"min=1"`
	BatchSize         int     `koanf:"batch_size"         validate:"min=1"`
	ODESampling       bool    `koanf:"ode_sampling"`
	CheckpointsFolder string  `koanf:"checkpoints_folder"`
	CheckpointName    string  `koanf:"checkpoint_name"`
	StepUnrolled      bool    `koanf:"step_unrolled"`
	TrainEmbeddings   bool    `koanf:"train_embeddings"`
	XTCoef            float64 `koanf:"x_T_coef"`
	NLLCoef           float64 `koanf:"nll_coef"`
	CheckpointsPrefix string  `koanf:"checkpoints_prefix"`
}

// OptimConfig contains optimizer settings.
type OptimConfig struct {
	GradClipNorm float64 `koanf:"grad_clip_norm"`
	LinearWarmup int     `koanf:"linear_warmup"  validate:"min=0"`
	LR           float64 `koanf:"lr"             validate:"gt=0"`
	MinLR        float64 `koanf:"min_lr"         validate:"gte=0"`
	WarmupLR     float64 `koanf:"warmup_lr"      validate:"gte=0"`
	WeightDecay  float64 `koanf:"weight_decay"   validate:"gte=0"`
	Beta1        float64 `koanf:"beta_1"         validate:"gte=0,lt=1"`
	Beta2        float64 `koanf:"beta_2"         validate:"gte=0,lt=1"`
	Eps          float64 `koanf:"eps"            validate:"gt=0"`
}

// ValidationConfig contains generation-time evaluation settings.
type ValidationConfig struct {
	BatchSize   int     `koanf:"batch_size"    validate:"min=1"`
	NumGenTexts int     `koanf:"num_gen_texts" validate:"min=1"`
	TextsPath   string  `koanf:"texts_path"`
	CfgCoef     float64 `koanf:"cfg_coef"`
}

// DynamicConfig contains diffusion dynamics settings.
type DynamicConfig struct {
	Solver      string  `koanf:"solver"       validate:"required"`
	Scheduler   string  `koanf:"scheduler"    validate:"required"`
	N           int     `koanf:"N"            validate:"min=1"`
	BetaMin     float64 `koanf:"beta_min"`
	BetaMax     float64 `koanf:"beta_max"`
	ODESampling bool    `koanf:"ode_sampling"`
	CoefD       int     `koanf:"coef_d"`
	Delta       float64 `koanf:"delta"`
	SigmaMin    float64 `koanf:"sigma_min"`
	SigmaMax    float64 `koanf:"sigma_max"`
}

// ModelConfig contains the diffusion model and encoder identifiers.
type ModelConfig struct {
	EMARate                    float64 `koanf:"ema_rate"                      validate:"gte=0,lte=1"`
	DownstreamTask             string  `koanf:"downstream_task"`
	Prediction                 string  `koanf:"prediction"`
	Loss                       string  `koanf:"loss"`
	EncoderName                string  `koanf:"encoder_name"                  validate:"required"`
	EncoderLink                string  `koanf:"encoder_link"                  validate:"required,model_ref"`
	ConditionalEncoderName     string  `koanf:"conditional_encoder_name"`
	EncoderNameHash            string  `koanf:"encoder_name_hash"`
	ConditionalEncoderNameHash string  `koanf:"conditional_encoder_name_hash"`
}

// DataConfig contains dataset-derived settings and statistics paths.
type DataConfig struct {
	Datasets       DatasetsConfig `koanf:"datasets"`
	BasePath       string         `koanf:"base_path"`
	MaxSequenceLen int            `koanf:"max_sequence_len" validate:"min=1"`
	MaxContextLen  int            `koanf:"max_context_len"  validate:"min=1"`
	Path           string         `koanf:"path"`
	SwapCfgCoef    float64        `koanf:"swap_cfg_coef"`
	EncGenMean     string         `koanf:"enc_gen_mean"`
	EncGenStd      string         `koanf:"enc_gen_std"`
}

// DatasetsConfig lists the configured datasets and their evaluation metrics.
type DatasetsConfig struct {
	DownstreamTasks []string                 `koanf:"downstream_tasks"`
	DatasetsList    []string                 `koanf:"datasets_list"    validate:"min=1,dive,required"`
	Metrics         map[string]DatasetMetric `koanf:"metrics"`
}

// DatasetMetric names the metrics computed for a dataset and the one used for model selection.
type DatasetMetric struct {
	Metrics       []string `koanf:"metrics"`
	TrackedMetric string   `koanf:"tracked_metric"`
}

// DecoderConfig contains the latent-to-token decoder settings.
type DecoderConfig struct {
	MaxSequenceLen   int       `koanf:"max_sequence_len"  validate:"min=1"`
	NoiseSigma       float64   `koanf:"noise_sigma"`
	LR               float64   `koanf:"lr"                validate:"gt=0"`
	Betas            []float64 `koanf:"betas"             validate:"len=2"`
	WeightDecay      float64   `koanf:"weight_decay"`
	BatchSize        int       `koanf:"batch_size"        validate:"min=1"`
	Epochs           int       `koanf:"epochs"            validate:"min=1"`
	MaxNorm          float64   `koanf:"max_norm"`
	IsConditional    bool      `koanf:"is_conditional"`
	Dataset          string    `koanf:"dataset"`
	T                float64   `koanf:"T"`
	Eps              float64   `koanf:"eps"`
	DiffusionForward bool      `koanf:"diffusion_forward"`
	Suffix           string    `koanf:"suffix"`
	NumHiddenLayers  int       `koanf:"num_hidden_layers" validate:"min=1"`
	Name             string    `koanf:"name"`
	DecoderPath      string    `koanf:"decoder_path"`
}

// SEConfig is the search-encoder (score estimator) transformer configuration.
type SEConfig struct {
	PretrainedConfig   `koanf:",flatten"`
	AttentionHeadSize  float64 `koanf:"attention_head_size"`
	IsConditional      bool    `koanf:"is_conditional"`
	UseSelfCond        bool    `koanf:"use_self_cond"`
	AttnImplementation string  `koanf:"_attn_implementation" validate:"oneof=sdpa eager"`
}

// PretrainedConfig mirrors the fields of a pretrained transformer config.json
// that the pipeline relies on.
type PretrainedConfig struct {
	ModelType                 string  `koanf:"model_type"`
	VocabSize                 int     `koanf:"vocab_size"                   validate:"min=1"`
	HiddenSize                int     `koanf:"hidden_size"                  validate:"min=1"`
	NumHiddenLayers           int     `koanf:"num_hidden_layers"`
	NumAttentionHeads         int     `koanf:"num_attention_heads"          validate:"min=1"`
	IntermediateSize          int     `koanf:"intermediate_size"`
	HiddenAct                 string  `koanf:"hidden_act"`
	HiddenDropoutProb         float64 `koanf:"hidden_dropout_prob"`
	AttentionProbsDropoutProb float64 `koanf:"attention_probs_dropout_prob"`
	MaxPositionEmbeddings     int     `koanf:"max_position_embeddings"`
	TypeVocabSize             int     `koanf:"type_vocab_size"`
	InitializerRange          float64 `koanf:"initializer_range"`
	LayerNormEps              float64 `koanf:"layer_norm_eps"`
	PadTokenID                int     `koanf:"pad_token_id"`
	PositionEmbeddingType     string  `koanf:"position_embedding_type"`
}

// DefaultArgs returns the argument defaults declared in the field registry.
func DefaultArgs() Args {
	registry := definition.CreateRegistry()
	return Args{
		BatchSize:            getInt(registry, "args.batch_size"),
		StepUnrolled:         getBool(registry, "args.step_unrolled"),
		TrainEmbeddings:      getBool(registry, "args.train_embeddings"),
		XTCoef:               getFloat(registry, "args.x_T_coef"),
		NLLCoef:              getFloat(registry, "args.nll_coef"),
		Scheduler:            getString(registry, "args.scheduler"),
		CoefD:                getInt(registry, "args.coef_d"),
		Delta:                getFloat(registry, "args.delta"),
		SigmaMin:             getFloat(registry, "args.sigma_min"),
		SigmaMax:             getFloat(registry, "args.sigma_max"),
		EncoderName:          getString(registry, "args.encoder_name"),
		EncoderLink:          getString(registry, "args.encoder_link"),
		DatasetName:          getString(registry, "args.dataset_name"),
		SwapCfgCoef:          getFloat(registry, "args.swap_cfg_coef"),
		Emb:                  getBool(registry, "args.emb"),
		EmbStatisticsAggType: getString(registry, "args.emb_statistics_agg_type"),
		EmbeddingsPath:       getString(registry, "args.embeddings_path"),
		ClusterDiffusion:     getBool(registry, "args.cluster_diffusion"),
		RandomInitEmbeddings: getBool(registry, "args.random_init_embeddings"),
		DecoderName:          getString(registry, "args.decoder_name"),
		ProjectName:          getString(registry, "args.project_name"),
		RunName:              getString(registry, "args.run_name"),
	}
}

// Clone returns a deep copy that can be modified without affecting c.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cloned, ok := deepcopy.Copy(c).(*Config)
	if !ok {
		return nil
	}
	return cloned
}

// Helper functions for type-safe registry access
func getString(registry *definition.Registry, path string) string {
	if val := registry.GetDefault(path); val != nil {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(registry *definition.Registry, path string) int {
	if val := registry.GetDefault(path); val != nil {
		if i, ok := val.(int); ok {
			return i
		}
	}
	return 0
}

func getFloat(registry *definition.Registry, path string) float64 {
	if val := registry.GetDefault(path); val != nil {
		switch v := val.(type) {
		case float64:
			return v
		case int:
			return float64(v)
		}
	}
	return 0
}

func getBool(registry *definition.Registry, path string) bool {
	if val := registry.GetDefault(path); val != nil {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}
