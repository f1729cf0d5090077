package embedding

import (
	"context"
	"errors"
	"image"

	"github.com/example/idverify/internal/imageprocessor"
)

// TrainedCNNBackend runs three conv+pool blocks, a hidden dense layer and a
// linear projection over the canonical frame. It only exists with explicit
// weights; there is no randomly initialised variant.
type TrainedCNNBackend struct {
	weights *Weights
}

// NewTrainedCNNBackend validates w and returns a backend that is safe for
// concurrent use. w must not be modified afterwards.
func NewTrainedCNNBackend(w *Weights) (*TrainedCNNBackend, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &TrainedCNNBackend{weights: w}, nil
}

// Name implements Backend.
func (*TrainedCNNBackend) Name() string { return "trained_cnn" }

// Embed implements Backend.
func (b *TrainedCNNBackend) Embed(ctx context.Context, img image.Image) (Embedding, error) {
	if b == nil || b.weights == nil {
		return nil, errors.New("cnn backend has no weights")
	}

	act := frameTensor(img)
	side := FrameSize
	for i := range b.weights.Conv {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		act = conv3x3ReLU(act, side, side, b.weights.Conv[i])
		act = maxPool2(act, side, side, b.weights.Conv[i].Out)
		side /= 2
	}

	// Dropout is the identity at inference time.
	hidden := dense(act, b.weights.Hidden)
	for i, v := range hidden {
		if v < 0 {
			hidden[i] = 0
		}
	}
	out := dense(hidden, b.weights.Projection)

	vec := make(Embedding, len(out))
	for i, v := range out {
		vec[i] = float64(v)
	}
	return vec, nil
}

// frameTensor resizes img to the canonical frame and returns HWC values in
// [-1, 1].
func frameTensor(img image.Image) []float32 {
	frame := imageprocessor.Resize(img, FrameSize, FrameSize)
	t := make([]float32, FrameSize*FrameSize*3)
	for i, j := 0, 0; i < len(frame.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			t[j] = float32(frame.Pix[i+c])/127.5 - 1
			j++
		}
	}
	return t
}

func conv3x3ReLU(in []float32, h, w int, layer ConvLayer) []float32 {
	cin, cout := layer.In, layer.Out
	out := make([]float32, h*w*cout)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			acc := out[(y*w+x)*cout : (y*w+x+1)*cout]
			copy(acc, layer.Bias)
			for ky := 0; ky < 3; ky++ {
				iy := y + ky - 1
				if iy < 0 || iy >= h {
					continue
				}
				for kx := 0; kx < 3; kx++ {
					ix := x + kx - 1
					if ix < 0 || ix >= w {
						continue
					}
					px := in[(iy*w+ix)*cin : (iy*w+ix+1)*cin]
					k := layer.Kernel[(ky*3+kx)*cin*cout:]
					for c, v := range px {
						if v == 0 {
							continue
						}
						row := k[c*cout : (c+1)*cout]
						for o := range acc {
							acc[o] += v * row[o]
						}
					}
				}
			}
			for o, v := range acc {
				if v < 0 {
					acc[o] = 0
				}
			}
		}
	}
	return out
}

func maxPool2(in []float32, h, w, channels int) []float32 {
	oh, ow := h/2, w/2
	out := make([]float32, oh*ow*channels)
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			dst := out[(y*ow+x)*channels : (y*ow+x+1)*channels]
			for c := range dst {
				m := in[((2*y)*w+2*x)*channels+c]
				for _, p := range [3]int{((2*y)*w + 2*x + 1), ((2*y+1)*w + 2*x), ((2*y+1)*w + 2*x + 1)} {
					if v := in[p*channels+c]; v > m {
						m = v
					}
				}
				dst[c] = m
			}
		}
	}
	return out
}

func dense(in []float32, layer DenseLayer) []float32 {
	out := make([]float32, layer.Out)
	for o := range out {
		row := layer.Weight[o*layer.In : (o+1)*layer.In]
		sum := layer.Bias[o]
		for i, v := range in {
			sum += v * row[i]
		}
		out[o] = sum
	}
	return out
}
