package config

import "slices"

// DefaultDataset is used when no dataset name is given.
const DefaultDataset = "rocstories"

var (
	sequenceLenTable = map[string]int{
		"wikipedia":  128,
		"rocstories": 80,
		"qqp":        50,
		"xsum":       64,
		"wiki_auto":  100,
	}

	contextLenTable = map[string]int{
		"wikipedia":  128,
		"rocstories": 80,
		"qqp":        50,
		"xsum":       512,
		"wiki_auto":  100,
	}

	unconditionalDatasets = []string{"rocstories", "wikipedia"}
)

var (
	generationMetrics = []string{"mauve", "div", "ppl"}
	seq2seqMetrics    = []string{"bleu", "bert-score", "rouge1", "rouge2", "rougeL"}
)

// DatasetMetrics returns a fresh copy of the per-dataset metrics table.
func DatasetMetrics() map[string]DatasetMetric {
	return map[string]DatasetMetric{
		"rocstories": {Metrics: slices.Clone(generationMetrics), TrackedMetric: "mauve"},
		"wikipedia":  {Metrics: slices.Clone(generationMetrics), TrackedMetric: "mauve"},
		"qqp":        {Metrics: slices.Clone(seq2seqMetrics), TrackedMetric: "bert-score"},
		"xsum":       {Metrics: slices.Clone(seq2seqMetrics), TrackedMetric: "bert-score"},
		"wiki_auto":  {Metrics: slices.Clone(seq2seqMetrics), TrackedMetric: "bert-score"},
	}
}

// SequenceLen returns the maximum target sequence length for a dataset.
func SequenceLen(dataset string) (int, error) {
	n, ok := sequenceLenTable[dataset]
	if !ok {
		return 0, NewLookupError("sequence_len", dataset)
	}
	return n, nil
}

// ContextLen returns the maximum context (source) length for a dataset.
func ContextLen(dataset string) (int, error) {
	n, ok := contextLenTable[dataset]
	if !ok {
		return 0, NewLookupError("context_len", dataset)
	}
	return n, nil
}

// TrackedMetric returns the model-selection metric for a dataset.
func TrackedMetric(metrics map[string]DatasetMetric, dataset string) (string, error) {
	m, ok := metrics[dataset]
	if !ok {
		return "", NewLookupError("metrics", dataset)
	}
	return m.TrackedMetric, nil
}

// IsConditional reports whether training on dataset conditions on a source text.
func IsConditional(dataset string) bool {
	return !slices.Contains(unconditionalDatasets, dataset)
}

// KnownDatasets returns the dataset identifiers present in the lookup tables, sorted.
func KnownDatasets() []string {
	out := make([]string, 0, len(sequenceLenTable))
	for k := range sequenceLenTable {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
