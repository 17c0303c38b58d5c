package definition

import (
	"reflect"
)

// Standard type definitions for consistency
var (
	intType         = reflect.TypeOf(0)
	float64Type     = reflect.TypeOf(float64(0))
	boolType        = reflect.TypeOf(false)
	stringType      = reflect.TypeOf("")
	stringSliceType = reflect.TypeOf([]string{})
	floatSliceType  = reflect.TypeOf([]float64{})
)

// CreateRegistry creates and populates the configuration registry
// This is the SINGLE SOURCE OF TRUTH for all configuration defaults
func CreateRegistry() *Registry {
	registry := NewRegistry()
	registerArgsFields(registry)
	registerTrainingFields(registry)
	registerOptimFields(registry)
	registerValidationFields(registry)
	registerDynamicFields(registry)
	registerModelFields(registry)
	registerDataFields(registry)
	registerRunFields(registry)
	registerDecoderFields(registry)
	return registry
}

// registerArgsFields declares the command-line arguments every other value is derived from.
func registerArgsFields(registry *Registry) {
	registry.Register(&FieldDef{
		Path:      "args.batch_size",
		Default:   512,
		CLIFlag:   "batch-size",
		Shorthand: "b",
		EnvVar:    "TENCDM_BATCH_SIZE",
		Type:      intType,
		Help:      "Global batch size before gradient accumulation",
	})
	registry.Register(&FieldDef{
		Path:    "args.step_unrolled",
		Default: false,
		CLIFlag: "step-unrolled",
		EnvVar:  "TENCDM_STEP_UNROLLED",
		Type:    boolType,
		Help:    "Enable step-unrolled denoising during training",
	})
	registry.Register(&FieldDef{
		Path:    "args.train_embeddings",
		Default: false,
		CLIFlag: "train-embeddings",
		EnvVar:  "TENCDM_TRAIN_EMBEDDINGS",
		Type:    boolType,
		Help:    "Train the embedding table together with the diffusion model",
	})
	registry.Register(&FieldDef{
		Path:    "args.x_T_coef",
		Default: 0.0,
		CLIFlag: "x-t-coef",
		EnvVar:  "TENCDM_X_T_COEF",
		Type:    float64Type,
		Help:    "Weight of the x_T prior term in the loss",
	})
	registry.Register(&FieldDef{
		Path:    "args.nll_coef",
		Default: 0.0,
		CLIFlag: "nll-coef",
		EnvVar:  "TENCDM_NLL_COEF",
		Type:    float64Type,
		Help:    "Weight of the token NLL term in the loss",
	})
	registry.Register(&FieldDef{
		Path:    "args.scheduler",
		Default: "sd",
		CLIFlag: "scheduler",
		EnvVar:  "TENCDM_SCHEDULER",
		Type:    stringType,
		Help:    "Noise scheduler name (cluster_sd switches the checkpoint prefix format)",
	})
	registry.Register(&FieldDef{
		Path:    "args.coef_d",
		Default: 9,
		CLIFlag: "coef-d",
		EnvVar:  "TENCDM_COEF_D",
		Type:    intType,
		Help:    "Scheduler coefficient d",
	})
	registry.Register(&FieldDef{
		Path:    "args.delta",
		Default: 0.0,
		CLIFlag: "delta",
		EnvVar:  "TENCDM_DELTA",
		Type:    float64Type,
		Help:    "Cluster scheduler delta",
	})
	registry.Register(&FieldDef{
		Path:    "args.sigma_min",
		Default: 1.5,
		CLIFlag: "sigma-min",
		EnvVar:  "TENCDM_SIGMA_MIN",
		Type:    float64Type,
		Help:    "Minimum noise level",
	})
	registry.Register(&FieldDef{
		Path:    "args.sigma_max",
		Default: 200.0,
		CLIFlag: "sigma-max",
		EnvVar:  "TENCDM_SIGMA_MAX",
		Type:    float64Type,
		Help:    "Maximum noise level",
	})
	registry.Register(&FieldDef{
		Path:      "args.encoder_name",
		Default:   "bert-base-cased",
		CLIFlag:   "encoder-name",
		Shorthand: "e",
		EnvVar:    "TENCDM_ENCODER_NAME",
		Type:      stringType,
		Help:      "Encoder name; its family (bert, roberta, t5, bart) selects the pretrained link",
	})
	registry.Register(&FieldDef{
		Path:    "args.encoder_link",
		Default: "",
		CLIFlag: "encoder-link",
		EnvVar:  "TENCDM_ENCODER_LINK",
		Type:    stringType,
		Help:    "Explicit pretrained model identifier (skips family resolution)",
	})
	registry.Register(&FieldDef{
		Path:      "args.dataset_name",
		Default:   "",
		CLIFlag:   "dataset-name",
		Shorthand: "d",
		EnvVar:    "TENCDM_DATASET_NAME",
		Type:      stringType,
		Help:      "Dataset identifier (rocstories, wikipedia, qqp, xsum, wiki_auto); empty means rocstories",
	})
	registry.Register(&FieldDef{
		Path:    "args.swap_cfg_coef",
		Default: 0.0,
		CLIFlag: "swap-cfg-coef",
		EnvVar:  "TENCDM_SWAP_CFG_COEF",
		Type:    float64Type,
		Help:    "Probability of swapping the condition for classifier-free guidance",
	})
	registry.Register(&FieldDef{
		Path:    "args.emb",
		Default: false,
		CLIFlag: "emb",
		EnvVar:  "TENCDM_EMB",
		Type:    boolType,
		Help:    "Diffuse normalized token embeddings instead of encoder hidden states",
	})
	registry.Register(&FieldDef{
		Path:    "args.emb_statistics_agg_type",
		Default: "features",
		CLIFlag: "emb-statistics-agg-type",
		EnvVar:  "TENCDM_EMB_STATISTICS_AGG_TYPE",
		Type:    stringType,
		Help:    "Embedding statistics aggregation: features or total",
	})
	registry.Register(&FieldDef{
		Path:    "args.embeddings_path",
		Default: "",
		CLIFlag: "embeddings-path",
		EnvVar:  "TENCDM_EMBEDDINGS_PATH",
		Type:    stringType,
		Help:    "Precomputed embeddings file (safetensors) overriding the encoder table",
	})
	registry.Register(&FieldDef{
		Path:    "args.cluster_diffusion",
		Default: false,
		CLIFlag: "cluster-diffusion",
		EnvVar:  "TENCDM_CLUSTER_DIFFUSION",
		Type:    boolType,
		Help:    "Enable cluster diffusion",
	})
	registry.Register(&FieldDef{
		Path:    "args.random_init_embeddings",
		Default: false,
		CLIFlag: "random-init-embeddings",
		EnvVar:  "TENCDM_RANDOM_INIT_EMBEDDINGS",
		Type:    boolType,
		Help:    "Replace the embedding table with a randomly initialized one of the same shape",
	})
	registry.Register(&FieldDef{
		Path:    "args.decoder_name",
		Default: "",
		CLIFlag: "decoder-name",
		EnvVar:  "TENCDM_DECODER_NAME",
		Type:    stringType,
		Help:    "Explicit decoder name (default decoder-<encoder hash>-transformer)",
	})
	registry.Register(&FieldDef{
		Path:    "args.project_name",
		Default: "tencdm",
		CLIFlag: "project-name",
		EnvVar:  "TENCDM_PROJECT_NAME",
		Type:    stringType,
		Help:    "Experiment tracking project name",
	})
	registry.Register(&FieldDef{
		Path:      "args.run_name",
		Default:   "",
		CLIFlag:   "run-name",
		Shorthand: "r",
		EnvVar:    "TENCDM_RUN_NAME",
		Type:      stringType,
		Help:      "Run name used in the checkpoint prefix",
	})
}

func registerTrainingFields(registry *Registry) {
	registry.Register(&FieldDef{
		Path:    "training.accum_batch_steps",
		Default: 1,
		Type:    intType,
		Help:    "Gradient accumulation steps",
	})
	registry.Register(&FieldDef{
		Path:         "training.training_iters",
		Default:      1_000_000,
		Type:         intType,
		Help:         "Training iterations per accumulation step",
		PerAccumStep: true,
	})
	registry.Register(&FieldDef{
		Path:         "training.checkpoint_freq",
		Default:      25_000,
		Type:         intType,
		Help:         "Checkpoint frequency per accumulation step",
		PerAccumStep: true,
	})
	registry.Register(&FieldDef{
		Path:         "training.eval_freq",
		Default:      25_000,
		Type:         intType,
		Help:         "Evaluation frequency per accumulation step",
		PerAccumStep: true,
	})
	registry.Register(&FieldDef{
		Path:    "training.ode_sampling",
		Default: false,
		Type:    boolType,
		Help:    "Use ODE sampling during training-time evaluation",
	})
	registry.Register(&FieldDef{
		Path:    "training.checkpoint_name",
		Default: "",
		Type:    stringType,
		Help:    "Checkpoint to resume from",
	})
}

func registerOptimFields(registry *Registry) {
	registry.Register(&FieldDef{Path: "optim.grad_clip_norm", Default: 1.0, Type: float64Type, Help: "Gradient clipping norm"})
	registry.Register(&FieldDef{
		Path:         "optim.linear_warmup",
		Default:      5000,
		Type:         intType,
		Help:         "Linear warmup steps per accumulation step",
		PerAccumStep: true,
	})
	registry.Register(&FieldDef{Path: "optim.lr", Default: 2e-4, Type: float64Type, Help: "Learning rate"})
	registry.Register(&FieldDef{Path: "optim.min_lr", Default: 2e-4, Type: float64Type, Help: "Minimum learning rate"})
	registry.Register(&FieldDef{Path: "optim.warmup_lr", Default: 1e-8, Type: float64Type, Help: "Warmup start learning rate"})
	registry.Register(&FieldDef{Path: "optim.weight_decay", Default: 0.01, Type: float64Type, Help: "Weight decay"})
	registry.Register(&FieldDef{Path: "optim.beta_1", Default: 0.9, Type: float64Type, Help: "Adam beta 1"})
	registry.Register(&FieldDef{Path: "optim.beta_2", Default: 0.98, Type: float64Type, Help: "Adam beta 2"})
	registry.Register(&FieldDef{Path: "optim.eps", Default: 1e-6, Type: float64Type, Help: "Adam epsilon"})
}

func registerValidationFields(registry *Registry) {
	registry.Register(&FieldDef{Path: "validation.batch_size", Default: 100, Type: intType, Help: "Generation batch size"})
	registry.Register(&FieldDef{
		Path:    "validation.num_gen_texts",
		Default: 1000,
		Type:    intType,
		Help:    "Number of texts generated per evaluation",
	})
	registry.Register(&FieldDef{
		Path:    "validation.cfg_coef",
		Default: 0.0,
		Type:    float64Type,
		Help:    "Classifier-free guidance coefficient at generation time",
	})
}

func registerDynamicFields(registry *Registry) {
	registry.Register(&FieldDef{Path: "dynamic.solver", Default: "euler", Type: stringType, Help: "Reverse process solver"})
	registry.Register(&FieldDef{Path: "dynamic.N", Default: 100, Type: intType, Help: "Number of sampling steps"})
	registry.Register(&FieldDef{Path: "dynamic.beta_min", Default: 0.1, Type: float64Type, Help: "Minimum beta"})
	registry.Register(&FieldDef{Path: "dynamic.beta_max", Default: 20.0, Type: float64Type, Help: "Maximum beta"})
	registry.Register(&FieldDef{Path: "dynamic.ode_sampling", Default: false, Type: boolType, Help: "Use ODE sampling"})
}

func registerModelFields(registry *Registry) {
	registry.Register(&FieldDef{Path: "model.ema_rate", Default: 0.9999, Type: float64Type, Help: "EMA decay rate"})
	registry.Register(&FieldDef{Path: "model.downstream_task", Default: "", Type: stringType, Help: "Downstream task name"})
	registry.Register(&FieldDef{Path: "model.prediction", Default: "x_0", Type: stringType, Help: "Prediction target"})
	registry.Register(&FieldDef{Path: "model.loss", Default: "L_x_0", Type: stringType, Help: "Loss name"})
}

func registerDataFields(registry *Registry) {
	registry.Register(&FieldDef{
		Path:    "data.datasets.downstream_tasks",
		Default: []string{"qqp", "xsum", "paradetox", "wiki_auto"},
		Type:    stringSliceType,
		Help:    "Datasets treated as conditional downstream tasks",
	})
	registry.Register(&FieldDef{Path: "data.path", Default: "", Type: stringType, Help: "Explicit dataset path"})
}

func registerRunFields(registry *Registry) {
	registry.Register(&FieldDef{Path: "finetuning", Default: false, Type: boolType, Help: "Fine-tuning run"})
	registry.Register(&FieldDef{Path: "seed", Default: 0, Type: intType, Help: "Random seed"})
	registry.Register(&FieldDef{Path: "ddp", Default: true, Type: boolType, Help: "Distributed data parallel"})
	registry.Register(&FieldDef{
		Path:    "use_self_cond",
		Default: false,
		Type:    boolType,
		Help:    "Self-conditioning (mutually exclusive with step unrolling)",
	})
	registry.Register(&FieldDef{Path: "timesteps", Default: "linear", Type: stringType, Help: "Timestep schedule"})
	registry.Register(&FieldDef{Path: "eval", Default: false, Type: boolType, Help: "Evaluation-only run"})
	registry.Register(&FieldDef{
		Path:    "higher_better",
		Default: true,
		Type:    boolType,
		Help:    "Higher tracked metric is better",
	})
	registry.Register(&FieldDef{Path: "save_top_k", Default: 2, Type: intType, Help: "Checkpoints kept by metric"})
}

func registerDecoderFields(registry *Registry) {
	registry.Register(&FieldDef{
		Path:    "decoder.max_sequence_len",
		Default: 128,
		Type:    intType,
		Help:    "Decoder maximum sequence length (must cover data.max_sequence_len)",
	})
	registry.Register(&FieldDef{Path: "decoder.noise_sigma", Default: 0.2, Type: float64Type, Help: "Decoder noise sigma"})
	registry.Register(&FieldDef{Path: "decoder.lr", Default: 1e-4, Type: float64Type, Help: "Decoder learning rate"})
	registry.Register(&FieldDef{
		Path:    "decoder.betas",
		Default: []float64{0.9, 0.98},
		Type:    floatSliceType,
		Help:    "Decoder Adam betas",
	})
	registry.Register(&FieldDef{
		Path:    "decoder.weight_decay",
		Default: 0.001,
		Type:    float64Type,
		Help:    "Decoder weight decay",
	})
	registry.Register(&FieldDef{Path: "decoder.batch_size", Default: 64, Type: intType, Help: "Decoder batch size"})
	registry.Register(&FieldDef{Path: "decoder.epochs", Default: 2, Type: intType, Help: "Decoder training epochs"})
	registry.Register(&FieldDef{Path: "decoder.max_norm", Default: 1.0, Type: float64Type, Help: "Decoder clipping norm"})
	registry.Register(&FieldDef{Path: "decoder.T", Default: 0.15, Type: float64Type, Help: "Decoder noise time"})
	registry.Register(&FieldDef{Path: "decoder.eps", Default: 0.0, Type: float64Type, Help: "Decoder epsilon"})
	registry.Register(&FieldDef{
		Path:    "decoder.diffusion_forward",
		Default: true,
		Type:    boolType,
		Help:    "Train the decoder on forward-diffused latents",
	})
	registry.Register(&FieldDef{Path: "decoder.suffix", Default: "", Type: stringType, Help: "Decoder name suffix"})
	registry.Register(&FieldDef{
		Path:    "decoder.num_hidden_layers",
		Default: 3,
		Type:    intType,
		Help:    "Decoder transformer layers",
	})
}
