// imageprocessor.go - Upload preparation before text extraction

package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	"github.com/disintegration/imaging"
)

// DefaultMaxImageDimension bounds the longest side of an uploaded page.
const DefaultMaxImageDimension = 2500

// ImageOptions controls PrepareUpload.
type ImageOptions struct {
	MaxDimension int
	Enhance      bool // adaptive contrast and sharpening for scans
}

// PrepareUpload downscales an uploaded page image so the extractor stays
// within its request limits. PDFs and formats imaging cannot decode pass
// through untouched.
func PrepareUpload(data []byte, mimeType string, opts ImageOptions) ([]byte, string, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if !strings.HasPrefix(mimeType, "image/") {
		return data, mimeType, nil
	}
	switch mimeType {
	case "image/jpeg", "image/jpg", "image/png", "image/gif", "image/bmp", "image/tiff":
	default:
		return data, mimeType, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	maxDimension := opts.MaxDimension
	if maxDimension <= 0 {
		maxDimension = DefaultMaxImageDimension
	}
	resized := false
	bounds := img.Bounds()
	if bounds.Dx() > maxDimension || bounds.Dy() > maxDimension {
		img = imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
		resized = true
	}

	if opts.Enhance {
		if analyzeImageQuality(img) < 50 {
			img = applyStandardEnhancement(img)
		} else {
			img = applyLightEnhancement(img)
		}
	} else if !resized {
		return data, mimeType, nil
	}

	var buf bytes.Buffer
	outType := "image/jpeg"
	if mimeType == "image/png" {
		err = png.Encode(&buf, img)
		outType = "image/png"
	} else {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95})
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode processed image: %w", err)
	}
	return buf.Bytes(), outType, nil
}

// analyzeImageQuality analyzes image and returns quality score (0-100)
func analyzeImageQuality(img image.Image) float64 {
	bounds := img.Bounds()

	var totalBrightness float64
	minBrightness, maxBrightness := 255.0, 0.0
	pixelCount := 0

	// every 10th pixel
	for y := bounds.Min.Y; y < bounds.Max.Y; y += 10 {
		for x := bounds.Min.X; x < bounds.Max.X; x += 10 {
			r, g, b, _ := img.At(x, y).RGBA()
			brightness := (float64(r>>8) + float64(g>>8) + float64(b>>8)) / 3.0

			totalBrightness += brightness
			minBrightness = math.Min(minBrightness, brightness)
			maxBrightness = math.Max(maxBrightness, brightness)
			pixelCount++
		}
	}
	if pixelCount == 0 {
		return 0
	}

	avgBrightness := totalBrightness / float64(pixelCount)
	contrast := maxBrightness - minBrightness

	// Ideal: avgBrightness = 128, contrast = 200+
	brightnessScore := 100.0 - math.Abs(avgBrightness-128.0)/1.28
	contrastScore := math.Min(contrast/2.0, 100.0)

	return (brightnessScore * 0.4) + (contrastScore * 0.6)
}

// applyLightEnhancement for good quality images
func applyLightEnhancement(img image.Image) image.Image {
	result := imaging.Sharpen(img, 1.5)
	result = imaging.AdjustContrast(result, 20)
	return imaging.Grayscale(result)
}

// applyStandardEnhancement for faded or low-contrast scans
func applyStandardEnhancement(img image.Image) image.Image {
	result := imaging.Sharpen(img, 3.0)
	result = imaging.AdjustContrast(result, 45)
	result = imaging.AdjustBrightness(result, 15)
	result = imaging.Grayscale(result)
	result = imaging.AdjustContrast(result, 35)
	return imaging.AdjustGamma(result, 1.15)
}
