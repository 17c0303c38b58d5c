package hub

import (
	"bytes"
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/tencdm/tencdm/engine/encoder"
	"github.com/tencdm/tencdm/engine/tensor"
)

const weightsFile = "model.safetensors"

// Model holds the input embedding table of a checkpoint.
type Model struct {
	link   string
	table  *mat.Dense
	hidden int
}

func (m *Model) EmbeddingTable() *mat.Dense { return m.table }
func (m *Model) HiddenSize() int            { return m.hidden }

// Forward always fails: hidden states must come from an external runtime.
func (m *Model) Forward(context.Context, [][]int, [][]int) (*tensor.Batch, error) {
	return nil, fmt.Errorf("%s: %w", m.link, ErrNoInferenceBackend)
}

// LoadModel reads the embedding weight named by strategy from model.safetensors.
func (h *Hub) LoadModel(ctx context.Context, id string, strategy encoder.Strategy) (encoder.Model, error) {
	data, err := h.fetch(ctx, id, weightsFile)
	if err != nil {
		return nil, err
	}
	file, err := tensor.ReadSafetensors(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", id, weightsFile, err)
	}
	for _, name := range weightCandidates(strategy) {
		t, ok := file.Tensors[name]
		if !ok {
			continue
		}
		table, err := tensor.Matrix(t)
		if err != nil {
			return nil, err
		}
		_, cols := table.Dims()
		return &Model{link: id, table: table, hidden: cols}, nil
	}
	return nil, fmt.Errorf("%s/%s: no tensor named %s", id, weightsFile, strategy.EmbeddingParam)
}

// weightCandidates lists the names the embedding weight takes in checkpoints
// saved with and without the task head prefix.
func weightCandidates(s encoder.Strategy) []string {
	names := []string{
		s.EmbeddingParam,
		s.Family.String() + "." + s.EmbeddingParam,
		"model." + s.EmbeddingParam,
	}
	if s.Family == encoder.T5 || s.Family == encoder.Bart {
		names = append(names, "shared.weight", "model.shared.weight")
	}
	return names
}
