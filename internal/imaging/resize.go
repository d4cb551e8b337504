// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package imaging downscales images before they are sent to a vision model.
package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/cloudwego/captioner/internal/pipeline/steps"
)

type Options struct {
	MaxWidth   int
	MaxHeight  int
	KeepAspect bool
	// Interpolation is "area", "linear", "cubic" or "nearest".
	Interpolation string
	// Quality of the JPEG output, 1 to 100.
	Quality int
}

var _ steps.Resizer = (*Resizer)(nil)

type Resizer struct {
	opts   Options
	scaler draw.Scaler
}

func NewResizer(opts Options) (*Resizer, error) {
	if opts.MaxWidth <= 0 || opts.MaxHeight <= 0 {
		return nil, fmt.Errorf("invalid max size %dx%d", opts.MaxWidth, opts.MaxHeight)
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = jpeg.DefaultQuality
	}
	var s draw.Scaler
	switch strings.ToLower(opts.Interpolation) {
	case "", "area", "cubic":
		s = draw.CatmullRom
	case "linear":
		s = draw.BiLinear
	case "nearest":
		s = draw.NearestNeighbor
	default:
		return nil, fmt.Errorf("unknown interpolation %q", opts.Interpolation)
	}
	return &Resizer{opts: opts, scaler: s}, nil
}

// Resize returns the file unchanged when it already fits, otherwise a JPEG
// no larger than the configured size.
func (r *Resizer) Resize(ctx context.Context, imagePath string) ([]byte, string, error) {
	raw, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, "", err
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", imagePath, err)
	}
	b := img.Bounds()
	w, h := r.targetSize(b.Dx(), b.Dy())
	if w == b.Dx() && h == b.Dy() {
		return raw, steps.MimeType(imagePath), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	r.scaler.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: r.opts.Quality}); err != nil {
		return nil, "", fmt.Errorf("encode resized image: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

// targetSize never upscales.
func (r *Resizer) targetSize(w, h int) (int, int) {
	if w <= r.opts.MaxWidth && h <= r.opts.MaxHeight {
		return w, h
	}
	if !r.opts.KeepAspect {
		return min(w, r.opts.MaxWidth), min(h, r.opts.MaxHeight)
	}
	scale := min(float64(r.opts.MaxWidth)/float64(w), float64(r.opts.MaxHeight)/float64(h))
	return max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))
}
