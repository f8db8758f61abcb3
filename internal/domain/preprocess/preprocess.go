// Package preprocess turns captured samples into the fixed-shape tensor the
// model expects: decode, resize, normalise, lay out channels.
//
// The output is a pure function of the sample's pixel data; fingerprints
// depend on that.
package preprocess

import (
	"bytes"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/okian/ecovision/internal/domain/model"
)

// Limits on decoded images; anything larger is treated as malformed. They are
// checked against the header before any pixel memory is allocated.
const (
	maxEdge   = 16384
	maxPixels = 64 << 20
)

// Option applies a configuration option to the Preprocessor.
type Option func(*Preprocessor)

// WithInterpolation overrides the resize kernel. Every kernel in nfnt/resize
// is deterministic; bilinear is the default.
func WithInterpolation(fn resize.InterpolationFunction) Option {
	return func(p *Preprocessor) {
		p.interp = fn
	}
}

// Preprocessor prepares samples for one model contract.
type Preprocessor struct {
	contract model.Contract
	interp   resize.InterpolationFunction
}

// New creates a Preprocessor for contract.
func New(contract model.Contract, opts ...Option) (*Preprocessor, error) {
	if err := contract.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid model contract")
	}
	p := &Preprocessor{
		contract: contract,
		interp:   resize.Bilinear,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Prepare converts a sample to a model input tensor.
func (p *Preprocessor) Prepare(sample model.InputSample) (model.Tensor, error) {
	img, err := decode(sample)
	if err != nil {
		return model.Tensor{}, err
	}

	size := p.contract.InputSize
	b := img.Bounds()
	if b.Dx() != size || b.Dy() != size {
		img = resize.Resize(uint(size), uint(size), img, p.interp)
	}

	return p.toTensor(toNRGBA(img)), nil
}

// normalization returns the effective normalisation; uint8 models always take raw values.
func (p *Preprocessor) normalization() model.Normalization {
	if p.contract.InputType == model.ElementUint8 {
		return model.NormalizeNone
	}
	return p.contract.Normalization
}

func (p *Preprocessor) toTensor(img *image.NRGBA) model.Tensor {
	size := p.contract.InputSize
	t := model.NewTensor(p.contract.InputShape()...)
	norm := p.normalization()
	plane := size * size

	for y := 0; y < size; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+size*4]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+3]
			for c := 0; c < 3; c++ {
				v := normalize(px[c], norm)
				if p.contract.Layout == model.LayoutNCHW {
					t.Data[c*plane+y*size+x] = v
				} else {
					t.Data[(y*size+x)*3+c] = v
				}
			}
		}
	}
	return t
}

func normalize(v uint8, norm model.Normalization) float32 {
	switch norm {
	case model.NormalizeMinusOneToOne:
		return float32(v)/127.5 - 1
	case model.NormalizeNone:
		return float32(v)
	default:
		return float32(v) / 255
	}
}

func decode(sample model.InputSample) (image.Image, error) {
	if len(sample.Data) == 0 {
		return nil, unsupported(errors.New("empty buffer"))
	}
	switch sample.Format {
	case model.FormatEncoded, "":
		return decodeEncoded(sample.Data)
	case model.FormatRGB8:
		return wrapRaw(sample, 3)
	case model.FormatRGBA8:
		return wrapRaw(sample, 4)
	default:
		return nil, unsupported(errors.Errorf("unknown format %q", sample.Format))
	}
}

func decodeEncoded(data []byte) (image.Image, error) {
	webP := isWebP(data)
	if err := checkHeader(data, webP); err != nil {
		return nil, err
	}

	var (
		img image.Image
		err error
	)
	if webP {
		img, err = webp.Decode(bytes.NewReader(data))
	} else {
		img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	}
	if err != nil {
		return nil, unsupported(errors.Wrap(err, "decode image"))
	}
	b := img.Bounds()
	if !withinLimits(b.Dx(), b.Dy()) {
		return nil, unsupported(errors.Errorf("image dimensions %dx%d out of range", b.Dx(), b.Dy()))
	}
	return img, nil
}

func checkHeader(data []byte, webP bool) error {
	var (
		cfg image.Config
		err error
	)
	if webP {
		cfg, err = webp.DecodeConfig(bytes.NewReader(data))
	} else {
		cfg, _, err = image.DecodeConfig(bytes.NewReader(data))
	}
	if err != nil {
		return unsupported(errors.Wrap(err, "decode image header"))
	}
	if !withinLimits(cfg.Width, cfg.Height) {
		return unsupported(errors.Errorf("image dimensions %dx%d out of range", cfg.Width, cfg.Height))
	}
	return nil
}

func withinLimits(w, h int) bool {
	return w > 0 && h > 0 && w <= maxEdge && h <= maxEdge && w*h <= maxPixels
}

func isWebP(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

func wrapRaw(sample model.InputSample, bpp int) (image.Image, error) {
	w, h := sample.Width, sample.Height
	if !withinLimits(w, h) {
		return nil, unsupported(errors.Errorf("raw dimensions %dx%d out of range", w, h))
	}
	if len(sample.Data) != w*h*bpp {
		return nil, unsupported(errors.Errorf("raw buffer has %d bytes, want %d", len(sample.Data), w*h*bpp))
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	if bpp == 4 {
		copy(img.Pix, sample.Data)
		return img, nil
	}
	for i, j := 0, 0; i < len(sample.Data); i, j = i+3, j+4 {
		img.Pix[j] = sample.Data[i]
		img.Pix[j+1] = sample.Data[i+1]
		img.Pix[j+2] = sample.Data[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
