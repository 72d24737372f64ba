package augment

import (
	"image"

	"github.com/bmharper/cimg/v2"
	"gorgonia.org/tensor"
)

// Copy an RGB cimg image into an NRGBA image, which is what the imaging filters operate on
func toNRGBA(src *cimg.Image) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, src.Width, src.Height))
	nc := src.NChan()
	for y := 0; y < src.Height; y++ {
		s := src.Pixels[y*src.Stride : y*src.Stride+src.Width*nc]
		d := dst.Pix[y*dst.Stride : y*dst.Stride+src.Width*4]
		for x := 0; x < src.Width; x++ {
			d[x*4] = s[x*nc]
			d[x*4+1] = s[x*nc+1]
			d[x*4+2] = s[x*nc+2]
			d[x*4+3] = 255
		}
	}
	return dst
}

// Drop the alpha channel of an NRGBA image, producing a packed RGB cimg image
func fromNRGBA(src *image.NRGBA) *cimg.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := cimg.NewImage(w, h, cimg.PixelFormatRGB)
	for y := 0; y < h; y++ {
		s := src.Pix[y*src.Stride : y*src.Stride+w*4]
		d := dst.Pixels[y*dst.Stride : y*dst.Stride+w*3]
		for x := 0; x < w; x++ {
			d[x*3] = s[x*4]
			d[x*3+1] = s[x*4+1]
			d[x*3+2] = s[x*4+2]
		}
	}
	return dst
}

// Resize to exactly width x height.
// Box filter when shrinking, the cimg default filter when enlarging.
func resize(src *cimg.Image, width, height int) *cimg.Image {
	if src.Width == width && src.Height == height {
		return src
	}
	params := cimg.ResizeParams{CheapSRGBFilter: true}
	if width < src.Width || height < src.Height {
		params.Filter = cimg.ResizeFilterBox
	} else {
		params.Filter = cimg.ResizeFilterDefault
	}
	return cimg.ResizeNew(src, width, height, &params)
}

// Convert an RGB image into a (C, H, W) tensor of float32 values in [0, 1]
func toTensor(img *cimg.Image) *tensor.Dense {
	w, h := img.Width, img.Height
	nc := img.NChan()
	backing := make([]float32, 3*h*w)
	for y := 0; y < h; y++ {
		row := img.Pixels[y*img.Stride:]
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				backing[(c*h+y)*w+x] = float32(row[x*nc+c]) / 255
			}
		}
	}
	return tensor.New(tensor.WithShape(3, h, w), tensor.WithBacking(backing))
}

// Stack (C, H, W) frames along a new trailing axis, producing a (C, H, W, T) tensor
func stack(frames []*tensor.Dense) *tensor.Dense {
	shape := frames[0].Shape()
	C, H, W := shape[0], shape[1], shape[2]
	T := len(frames)
	backing := make([]float32, C*H*W*T)
	for t, f := range frames {
		src := f.Data().([]float32)
		for i, v := range src {
			backing[i*T+t] = v
		}
	}
	return tensor.New(tensor.WithShape(C, H, W, T), tensor.WithBacking(backing))
}
