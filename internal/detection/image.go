package detection

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	// WebP decoding for snapshot services that serve webp stills.
	_ "golang.org/x/image/webp"
)

// ValidateJPEG checks that data decodes as an image header the detection
// endpoint will accept.
func ValidateJPEG(data []byte) error {
	_, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decoding image header: %w", err)
	}
	return nil
}

// DecodeToFrame decodes a compressed still (JPEG or WebP) and scales it
// to the requested dimensions as packed RGB24.
func DecodeToFrame(data []byte, width, height int) (*Frame, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return imageToFrame(img, width, height), nil
}

// EncodeFrameJPEG packs an RGB frame back into JPEG, for services that
// consume stills.
func EncodeFrameJPEG(frame *Frame, quality int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i := 0; i < frame.Width*frame.Height; i++ {
		img.Pix[i*4+0] = frame.RGB[i*3+0]
		img.Pix[i*4+1] = frame.RGB[i*3+1]
		img.Pix[i*4+2] = frame.RGB[i*3+2]
		img.Pix[i*4+3] = 0xFF
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// imageToFrame scales an image to width x height and packs it as RGB24.
func imageToFrame(img image.Image, width, height int) *Frame {
	if width <= 0 || height <= 0 {
		bounds := img.Bounds()
		width = bounds.Dx()
		height = bounds.Dy()
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	rgb := make([]byte, width*height*3)
	for i := 0; i < width*height; i++ {
		rgb[i*3+0] = dst.Pix[i*4+0]
		rgb[i*3+1] = dst.Pix[i*4+1]
		rgb[i*3+2] = dst.Pix[i*4+2]
	}
	return &Frame{RGB: rgb, Width: width, Height: height}
}
