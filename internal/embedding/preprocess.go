package embedding

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// CLIP visual input geometry and per-channel normalization constants
// (the values the clip-ViT-B-32 preprocessor uses).
const clipInputSize = 224

var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// PreprocessImage decodes an image and produces the CLIP visual encoder
// input tensor: bilinear resize of the shorter side to 224, center crop
// to 224x224, per-channel mean/std normalization, CHW layout.
func PreprocessImage(data []byte) ([]float32, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("decode image: empty image")
	}

	// Scale so the shorter side becomes clipInputSize.
	var scaledW, scaledH int
	if w < h {
		scaledW = clipInputSize
		scaledH = (h*clipInputSize + w/2) / w
	} else {
		scaledH = clipInputSize
		scaledW = (w*clipInputSize + h/2) / h
	}
	scaled := image.NewRGBA(image.Rect(0, 0, scaledW, scaledH))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), src, bounds, draw.Src, nil)

	offX := (scaledW - clipInputSize) / 2
	offY := (scaledH - clipInputSize) / 2

	tensor := make([]float32, 3*clipInputSize*clipInputSize)
	plane := clipInputSize * clipInputSize
	for y := 0; y < clipInputSize; y++ {
		for x := 0; x < clipInputSize; x++ {
			r, g, b, _ := scaled.At(x+offX, y+offY).RGBA()
			i := y*clipInputSize + x
			tensor[i] = (float32(r)/65535 - clipMean[0]) / clipStd[0]
			tensor[plane+i] = (float32(g)/65535 - clipMean[1]) / clipStd[1]
			tensor[2*plane+i] = (float32(b)/65535 - clipMean[2]) / clipStd[2]
		}
	}
	return tensor, nil
}
