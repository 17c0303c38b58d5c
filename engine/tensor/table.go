package tensor

import (
	"fmt"
	"math"

	"github.com/spf13/afero"
	"gonum.org/v1/gonum/mat"
)

const (
	eigVecKey = "eig_vec"
	eigValKey = "eig_val"
)

// ReadTable loads an embedding table from a safetensors file on fs. A file
// holding a single 2-D tensor is the table itself; a file with eig_vec and
// eig_val yields eig_vec with column j scaled by sqrt(eig_val[j]).
func ReadTable(fs afero.Fs, path string) (*mat.Dense, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open embeddings file: %w", err)
	}
	defer f.Close()
	file, err := ReadSafetensors(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return TableFromFile(file)
}

// TableFromFile applies the table rules of ReadTable to an already decoded file.
func TableFromFile(file *File) (*mat.Dense, error) {
	vec, hasVec := file.Tensors[eigVecKey]
	val, hasVal := file.Tensors[eigValKey]
	switch {
	case hasVec && hasVal:
		return eigenTable(vec, val)
	case hasVec || hasVal:
		return nil, fmt.Errorf("embeddings file needs both %s and %s", eigVecKey, eigValKey)
	case len(file.Tensors) != 1:
		return nil, fmt.Errorf("embeddings file must hold one tensor, found %d", len(file.Tensors))
	}
	for _, t := range file.Tensors {
		return Matrix(t)
	}
	return nil, nil
}

// Matrix views a 2-D tensor as a gonum matrix sharing its data.
func Matrix(t *Tensor) (*mat.Dense, error) {
	if len(t.Shape) != 2 || t.Shape[0] == 0 || t.Shape[1] == 0 {
		return nil, fmt.Errorf("%s: expected a non-empty 2-D tensor, got shape %v", t.Name, t.Shape)
	}
	return mat.NewDense(t.Shape[0], t.Shape[1], t.Data), nil
}

func eigenTable(vec, val *Tensor) (*mat.Dense, error) {
	m, err := Matrix(vec)
	if err != nil {
		return nil, err
	}
	_, cols := m.Dims()
	if val.Len() != cols {
		return nil, fmt.Errorf("%s has %d values for %d columns", eigValKey, val.Len(), cols)
	}
	scale := make([]float64, cols)
	for j, v := range val.Data {
		if v < 0 {
			return nil, fmt.Errorf("%s[%d] is negative", eigValKey, j)
		}
		scale[j] = math.Sqrt(v)
	}
	var out mat.Dense
	out.Mul(m, mat.NewDiagDense(cols, scale))
	return &out, nil
}
