package embedding

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var weightsMagic = [4]byte{'I', 'D', 'V', 'W'}

const weightsVersion uint32 = 1

// convChannels is the channel progression of the three convolution blocks.
var convChannels = [4]int{3, 32, 64, 128}

// flattenSize is the activation count after three 2×2 pools of the frame.
const flattenSize = (FrameSize / 8) * (FrameSize / 8) * 128

// ConvLayer is a 3×3 convolution. Kernel is laid out as
// [ky][kx][in][out].
type ConvLayer struct {
	In, Out int
	Kernel  []float32
	Bias    []float32
}

// DenseLayer is a fully connected layer. Weight is laid out as [out][in].
type DenseLayer struct {
	In, Out int
	Weight  []float32
	Bias    []float32
}

// Weights holds a trained feature network.
type Weights struct {
	Conv       [3]ConvLayer
	Hidden     DenseLayer
	Projection DenseLayer
}

// Validate checks every layer shape against the fixed architecture.
func (w *Weights) Validate() error {
	if w == nil {
		return errors.New("weights are nil")
	}
	for i, layer := range w.Conv {
		if layer.In != convChannels[i] || layer.Out != convChannels[i+1] {
			return fmt.Errorf("conv%d: channels %d→%d, want %d→%d", i+1, layer.In, layer.Out, convChannels[i], convChannels[i+1])
		}
		if len(layer.Kernel) != 9*layer.In*layer.Out || len(layer.Bias) != layer.Out {
			return fmt.Errorf("conv%d: kernel or bias size mismatch", i+1)
		}
	}
	if w.Hidden.In != flattenSize || w.Hidden.Out <= 0 {
		return fmt.Errorf("hidden: shape %d→%d, want %d→n", w.Hidden.In, w.Hidden.Out, flattenSize)
	}
	if w.Projection.In != w.Hidden.Out || w.Projection.Out != Dimension {
		return fmt.Errorf("projection: shape %d→%d, want %d→%d", w.Projection.In, w.Projection.Out, w.Hidden.Out, Dimension)
	}
	for name, layer := range map[string]DenseLayer{"hidden": w.Hidden, "projection": w.Projection} {
		if len(layer.Weight) != layer.In*layer.Out || len(layer.Bias) != layer.Out {
			return fmt.Errorf("%s: weight or bias size mismatch", name)
		}
	}
	return nil
}

// LoadWeightsFile reads a weights file written by WriteWeights.
func LoadWeightsFile(path string) (*Weights, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open weights %s: %w", path, err)
	}
	defer f.Close()

	w, err := LoadWeights(f)
	if err != nil {
		return nil, fmt.Errorf("load weights %s: %w", path, err)
	}
	return w, nil
}

// LoadWeights decodes weights from r: a magic header, a version, then each
// layer as (in, out uint32, weights, bias) in little-endian float32.
func LoadWeights(r io.Reader) (*Weights, error) {
	br := bufio.NewReader(r)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if magic != weightsMagic {
		return nil, errors.New("not a weights file")
	}
	var version uint32
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version != weightsVersion {
		return nil, fmt.Errorf("unsupported weights version %d", version)
	}

	w := &Weights{}
	for i := range w.Conv {
		in, out, err := readShape(br)
		if err != nil {
			return nil, fmt.Errorf("conv%d: %w", i+1, err)
		}
		layer := ConvLayer{In: in, Out: out, Kernel: make([]float32, 9*in*out), Bias: make([]float32, out)}
		if err := readFloats(br, layer.Kernel, layer.Bias); err != nil {
			return nil, fmt.Errorf("conv%d: %w", i+1, err)
		}
		w.Conv[i] = layer
	}
	for _, dst := range []*DenseLayer{&w.Hidden, &w.Projection} {
		in, out, err := readShape(br)
		if err != nil {
			return nil, err
		}
		*dst = DenseLayer{In: in, Out: out, Weight: make([]float32, in*out), Bias: make([]float32, out)}
		if err := readFloats(br, dst.Weight, dst.Bias); err != nil {
			return nil, err
		}
	}

	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// WriteWeights encodes w in the format read by LoadWeights.
func WriteWeights(dst io.Writer, w *Weights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(dst)
	if _, err := bw.Write(weightsMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, weightsVersion); err != nil {
		return err
	}
	for _, layer := range w.Conv {
		if err := writeLayer(bw, layer.In, layer.Out, layer.Kernel, layer.Bias); err != nil {
			return err
		}
	}
	for _, layer := range []DenseLayer{w.Hidden, w.Projection} {
		if err := writeLayer(bw, layer.In, layer.Out, layer.Weight, layer.Bias); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// maxLayerSide bounds shapes read from disk so a corrupt header cannot force a
// huge allocation.
const maxLayerSide = 1 << 20

func readShape(r io.Reader) (int, int, error) {
	var shape [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &shape); err != nil {
		return 0, 0, fmt.Errorf("read shape: %w", err)
	}
	if shape[0] == 0 || shape[1] == 0 || shape[0] > maxLayerSide || shape[1] > maxLayerSide {
		return 0, 0, fmt.Errorf("invalid shape %d→%d", shape[0], shape[1])
	}
	return int(shape[0]), int(shape[1]), nil
}

func readFloats(r io.Reader, dsts ...[]float32) error {
	for _, dst := range dsts {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return fmt.Errorf("read values: %w", err)
		}
	}
	return nil
}

func writeLayer(w io.Writer, in, out int, values, bias []float32) error {
	if err := binary.Write(w, binary.LittleEndian, [2]uint32{uint32(in), uint32(out)}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, values); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, bias)
}
