package workloads

import (
	"image"
	"image/color"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

const (
	// BufferElements is the element count of every typed view.
	BufferElements = 1024
	// RawBufferBytes is the size of the byte-address input buffer.
	RawBufferBytes = 1024 * 32
	// OutputElements is the element count of the R32F output buffer.
	OutputElements = 1024 * 8
	// TextureSize is the edge length of the square input textures.
	TextureSize = 32
)

// LoadConstants is the constant block every load kernel reads.
type LoadConstants struct {
	// ElementsMask is OR-ed into every element index. It is zero at runtime
	// and only keeps the address computation opaque.
	ElementsMask uint32 `json:"elements_mask" yaml:"elements_mask" toml:"elements_mask"`
	// WriteIndex is the thread that stores its accumulator. 0xffffffff never
	// matches.
	WriteIndex uint32 `json:"write_index" yaml:"write_index" toml:"write_index"`
	// ReadStartAddress is the byte offset of the first raw load.
	ReadStartAddress uint32 `json:"read_start_address" yaml:"read_start_address" toml:"read_start_address"`
}

// AlignedConstants are the constants of the aligned load kernels.
func AlignedConstants() LoadConstants {
	return LoadConstants{ElementsMask: 0, WriteIndex: 0xffffffff, ReadStartAddress: 0}
}

// UnalignedConstants start raw loads one dword into the buffer.
func UnalignedConstants() LoadConstants {
	c := AlignedConstants()
	c.ReadStartAddress = 4
	return c
}

// Resources holds the buffers and textures shared by all workloads.
type Resources struct {
	// Typed holds one (elements x channels) float32 tensor per format.
	Typed map[Format]*tensor.Dense
	// Raw is the byte-address input buffer as uint32 words.
	Raw *tensor.Dense
	// Textures holds one (size x size x channels) float32 tensor per format.
	Textures map[Format]*tensor.Dense
	// Output is the R32F output buffer.
	Output *tensor.Dense
}

// NewResources creates and fills every input and the output buffer.
//
// Returns:
//   - *Resources: The initialised resources.
//   - error: An error if a tensor could not be created.
func NewResources() (*Resources, error) {
	r := &Resources{
		Typed:    make(map[Format]*tensor.Dense, len(Formats)),
		Textures: make(map[Format]*tensor.Dense, len(Formats)),
	}

	raw := make([]uint32, RawBufferBytes/4)
	for i := range raw {
		raw[i] = math32.Float32bits(sample(i))
	}
	r.Raw = tensor.New(tensor.WithShape(len(raw)), tensor.WithBacking(raw))
	r.Output = tensor.New(tensor.WithShape(OutputElements), tensor.Of(tensor.Float32))

	src := gradient(TextureSize * 4)
	for _, f := range Formats {
		typed, err := typedBuffer(f)
		if err != nil {
			return nil, err
		}
		r.Typed[f] = typed

		tex, err := texture(src, f, TextureSize)
		if err != nil {
			return nil, err
		}
		r.Textures[f] = tex
	}
	return r, nil
}

// sample is the deterministic value stored at element i.
func sample(i int) float32 {
	return 0.5 + 0.5*math32.Sin(float32(i)*0.37)
}

func typedBuffer(f Format) (*tensor.Dense, error) {
	ch := f.Channels()
	if ch == 0 {
		return nil, errors.Errorf("workloads: unknown format %d", int(f))
	}
	t := tensor.New(
		tensor.WithShape(BufferElements, ch),
		tensor.WithBacking(tensor.Range(tensor.Float32, 0, BufferElements*ch)),
	)
	if _, err := t.Apply(func(i float32) float32 {
		return f.Quantize(sample(int(i)))
	}, tensor.UseUnsafe()); err != nil {
		return nil, errors.Wrapf(err, "workloads: filling %s buffer", f)
	}
	return t, nil
}

// gradient draws a size x size RGBA source image.
func gradient(size int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / (size - 1)),
				G: uint8(y * 255 / (size - 1)),
				B: uint8((x ^ y) & 0xff),
				A: 255,
			})
		}
	}
	return img
}

// texture scales src to size x size and stores it in format f.
func texture(src image.Image, f Format, size int) (*tensor.Dense, error) {
	ch := f.Channels()
	if ch == 0 {
		return nil, errors.Errorf("workloads: unknown format %d", int(f))
	}
	img := resize.Resize(uint(size), uint(size), src, resize.Bilinear)
	b := img.Bounds()
	if b.Dx() != size || b.Dy() != size {
		return nil, errors.Errorf("workloads: resized texture is %dx%d, want %dx%d", b.Dx(), b.Dy(), size, size)
	}

	rgba := make([]float32, 0, size*size*4)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			rgba = append(rgba,
				float32(r>>8)/255.0,
				float32(g>>8)/255.0,
				float32(bl>>8)/255.0,
				float32(a>>8)/255.0,
			)
		}
	}
	full := tensor.New(tensor.WithShape(size, size, 4), tensor.WithBacking(rgba))
	if _, err := full.Apply(f.Quantize, tensor.UseUnsafe()); err != nil {
		return nil, errors.Wrapf(err, "workloads: quantizing %s texture", f)
	}
	return channels(full, ch)
}

// channels returns the first ch channels of an (h x w x 4) tensor as a
// contiguous (h x w x ch) tensor.
func channels(full *tensor.Dense, ch int) (*tensor.Dense, error) {
	if ch == 4 {
		return full, nil
	}
	shape := full.Shape()
	view, err := full.Slice(nil, nil, tensor.S(0, ch))
	if err != nil {
		return nil, errors.Wrapf(err, "workloads: slicing %d channels", ch)
	}
	out, ok := view.Materialize().(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("workloads: unexpected view type %T", view)
	}
	// Single channel slices drop the last axis.
	if err := out.Reshape(shape[0], shape[1], ch); err != nil {
		return nil, errors.Wrap(err, "workloads: reshaping texture")
	}
	return out, nil
}

func float32s(t *tensor.Dense) []float32 {
	return t.Data().([]float32)
}

func uint32s(t *tensor.Dense) []uint32 {
	return t.Data().([]uint32)
}
