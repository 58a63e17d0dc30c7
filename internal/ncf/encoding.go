package ncf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var byteOrder = binary.LittleEndian

// ErrCorruptModel is returned when serialized weights cannot be decoded.
var ErrCorruptModel = errors.New("corrupt model weights")

// maxDimension bounds any decoded size so corrupt headers cannot trigger huge
// allocations.
const maxDimension = 1 << 26

type header struct {
	Users    uint32
	Products uint32
	Dim      uint32
	Layers   uint32
}

// WriteTo serializes the model in little-endian binary form.
func (m *Model) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	h := header{
		Users:    uint32(m.Users),
		Products: uint32(m.Products),
		Dim:      uint32(m.Dim),
		Layers:   uint32(len(m.Layers)),
	}
	if err := binary.Write(cw, byteOrder, h); err != nil {
		return cw.n, fmt.Errorf("write header: %w", err)
	}
	for _, l := range m.Layers {
		if err := binary.Write(cw, byteOrder, [2]uint32{uint32(l.In), uint32(l.Out)}); err != nil {
			return cw.n, fmt.Errorf("write layer shape: %w", err)
		}
	}
	for _, block := range m.blocks() {
		if err := binary.Write(cw, byteOrder, block); err != nil {
			return cw.n, fmt.Errorf("write weights: %w", err)
		}
	}
	return cw.n, nil
}

// ReadModel decodes a model written by WriteTo.
func ReadModel(r io.Reader) (*Model, error) {
	var h header
	if err := binary.Read(r, byteOrder, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrCorruptModel, err)
	}
	if h.Users == 0 || h.Products == 0 || h.Dim == 0 || h.Layers == 0 ||
		h.Users > maxDimension || h.Products > maxDimension || h.Dim > maxDimension || h.Layers > 64 {
		return nil, fmt.Errorf("%w: implausible header %+v", ErrCorruptModel, h)
	}

	m := &Model{
		Users:    int(h.Users),
		Products: int(h.Products),
		Dim:      int(h.Dim),
	}
	in := 2 * m.Dim
	for i := range int(h.Layers) {
		var shape [2]uint32
		if err := binary.Read(r, byteOrder, &shape); err != nil {
			return nil, fmt.Errorf("%w: layer %d shape: %w", ErrCorruptModel, i, err)
		}
		if int(shape[0]) != in || shape[1] == 0 || shape[1] > maxDimension {
			return nil, fmt.Errorf("%w: layer %d shape %dx%d after width %d",
				ErrCorruptModel, i, shape[0], shape[1], in)
		}
		out := int(shape[1])
		m.Layers = append(m.Layers, Dense{
			In:  in,
			Out: out,
			W:   make([]float64, in*out),
			B:   make([]float64, out),
		})
		in = out
	}
	if in != 1 {
		return nil, fmt.Errorf("%w: output layer width %d", ErrCorruptModel, in)
	}

	m.UserEmb = make([]float64, m.Users*m.Dim)
	m.ProductEmb = make([]float64, m.Products*m.Dim)
	for _, block := range m.blocks() {
		if err := binary.Read(r, byteOrder, block); err != nil {
			return nil, fmt.Errorf("%w: weights: %w", ErrCorruptModel, err)
		}
	}
	return m, nil
}

func (m *Model) blocks() [][]float64 {
	blocks := [][]float64{m.UserEmb, m.ProductEmb}
	for _, l := range m.Layers {
		blocks = append(blocks, l.W, l.B)
	}
	return blocks
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
