package tensor

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/tidwall/gjson"
)

// maxHeaderSize bounds the JSON header so a corrupt length cannot exhaust memory.
const maxHeaderSize = 100 << 20

// ErrUnsupportedDType is returned for tensor element types that cannot be decoded.
var ErrUnsupportedDType = errors.New("unsupported tensor dtype")

// Tensor is a decoded safetensors entry.
type Tensor struct {
	Name  string
	DType string
	Shape []int
	Data  []float64
}

// Len returns the element count implied by Shape.
func (t *Tensor) Len() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// File is the set of tensors in a safetensors file plus its string metadata.
type File struct {
	Tensors  map[string]*Tensor
	Metadata map[string]string
}

// Names returns the tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for n := range f.Tensors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ReadSafetensors decodes every tensor in r: an 8-byte little-endian header
// length, a JSON header and the raw little-endian data buffer.
func ReadSafetensors(r io.Reader) (*File, error) {
	var size uint64
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, fmt.Errorf("failed to read safetensors header length: %w", err)
	}
	if size == 0 || size > maxHeaderSize {
		return nil, fmt.Errorf("invalid safetensors header length %d", size)
	}
	header := make([]byte, size)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read safetensors header: %w", err)
	}
	if !gjson.ValidBytes(header) {
		return nil, fmt.Errorf("safetensors header is not valid JSON")
	}
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read safetensors data: %w", err)
	}
	file := &File{Tensors: make(map[string]*Tensor), Metadata: make(map[string]string)}
	var decodeErr error
	gjson.ParseBytes(header).ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if name == "__metadata__" {
			value.ForEach(func(k, v gjson.Result) bool {
				file.Metadata[k.String()] = v.String()
				return true
			})
			return true
		}
		t, err := decodeEntry(name, value, buf)
		if err != nil {
			decodeErr = err
			return false
		}
		file.Tensors[name] = t
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return file, nil
}

func decodeEntry(name string, entry gjson.Result, buf []byte) (*Tensor, error) {
	t := &Tensor{Name: name, DType: entry.Get("dtype").String()}
	for _, d := range entry.Get("shape").Array() {
		if d.Int() < 0 {
			return nil, fmt.Errorf("%s: invalid dim %d", name, d.Int())
		}
		t.Shape = append(t.Shape, int(d.Int()))
	}
	offsets := entry.Get("data_offsets").Array()
	if len(offsets) != 2 {
		return nil, fmt.Errorf("%s: data_offsets must have two entries", name)
	}
	start, end := offsets[0].Int(), offsets[1].Int()
	if start < 0 || end < start || end > int64(len(buf)) {
		return nil, fmt.Errorf("%s: data_offsets [%d, %d] out of range", name, start, end)
	}
	raw := buf[start:end]
	width, err := elementSize(t.DType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	n := t.Len()
	if len(raw) != n*width {
		return nil, fmt.Errorf("%s: expected %d bytes for %v %s, got %d", name, n*width, t.Shape, t.DType, len(raw))
	}
	t.Data = make([]float64, n)
	for i := 0; i < n; i++ {
		t.Data[i] = decodeElement(t.DType, raw[i*width:])
	}
	return t, nil
}

func elementSize(dtype string) (int, error) {
	switch dtype {
	case "F64":
		return 8, nil
	case "F32":
		return 4, nil
	case "F16", "BF16":
		return 2, nil
	default:
		return 0, fmt.Errorf("%w %q", ErrUnsupportedDType, dtype)
	}
}

func decodeElement(dtype string, b []byte) float64 {
	switch dtype {
	case "F64":
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	case "F32":
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case "BF16":
		return float64(bf16ToF32(binary.LittleEndian.Uint16(b)))
	default:
		return float64(fp16ToF32(binary.LittleEndian.Uint16(b)))
	}
}

func bf16ToF32(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}

func fp16ToF32(u uint16) float32 {
	sign := uint32(u>>15) << 31
	exp := int32(u>>10) & 0x1f
	frac := uint32(u) & 0x3ff
	switch {
	case exp == 0 && frac == 0:
		return math.Float32frombits(sign)
	case exp == 0x1f:
		return math.Float32frombits(sign | 0xff<<23 | frac<<13)
	case exp == 0:
		// subnormal: shift the fraction until the implicit bit appears
		exp = 1
		for frac&0x400 == 0 {
			frac <<= 1
			exp--
		}
		frac &= 0x3ff
	}
	return math.Float32frombits(sign | uint32(exp+127-15)<<23 | frac<<13)
}

// WriteSafetensors encodes tensors as F32 in name order. Shapes must match Data.
func WriteSafetensors(w io.Writer, tensors map[string]*Tensor) error {
	names := make([]string, 0, len(tensors))
	for n := range tensors {
		names = append(names, n)
	}
	sort.Strings(names)
	header := []byte("{")
	offset := 0
	for i, name := range names {
		t := tensors[name]
		if t.Len() != len(t.Data) {
			return fmt.Errorf("%s: shape %v does not match %d values", name, t.Shape, len(t.Data))
		}
		if i > 0 {
			header = append(header, ',')
		}
		end := offset + 4*len(t.Data)
		key, err := json.Marshal(name)
		if err != nil {
			return fmt.Errorf("failed to encode tensor name %q: %w", name, err)
		}
		header = append(header, key...)
		header = fmt.Appendf(header, ":{\"dtype\":\"F32\",\"shape\":%s,\"data_offsets\":[%d,%d]}",
			shapeJSON(t.Shape), offset, end)
		offset = end
	}
	header = append(header, '}')
	if err := binary.Write(w, binary.LittleEndian, uint64(len(header))); err != nil {
		return err
	}
	if _, err := w.Write(header); err != nil {
		return err
	}
	buf := make([]byte, 4)
	for _, name := range names {
		for _, v := range tensors[name].Data {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
	}
	return nil
}

func shapeJSON(shape []int) string {
	out := []byte("[")
	for i, d := range shape {
		if i > 0 {
			out = append(out, ',')
		}
		out = fmt.Appendf(out, "%d", d)
	}
	return string(append(out, ']'))
}
