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

package ocr

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/cloudwego/captioner/internal/pipeline/steps"
)

func texts(es []steps.TextElement) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.Text)
	}
	return out
}

func TestPostProcessing(t *testing.T) {
	in := []steps.TextElement{
		{Text: "  Hello, World!  "},
		{Text: "x"},
		{Text: "HELLO, world!"},
		{Text: "Prix: 5€"},
	}
	tests := []struct {
		name string
		post PostProcessing
		want []string
	}{
		{"none", PostProcessing{}, []string{"  Hello, World!  ", "x", "HELLO, world!", "Prix: 5€"}},
		{"min length", PostProcessing{MinTextLength: 2, StripWhitespace: true}, []string{"Hello, World!", "HELLO, world!", "Prix: 5€"}},
		{"special chars", PostProcessing{RemoveSpecialChars: true, AllowedChars: "€", StripWhitespace: true}, []string{"Hello World", "x", "HELLO world", "Prix 5€"}},
		{"dedupe lowercase", PostProcessing{StripWhitespace: true, Lowercase: true, RemoveDuplicates: true}, []string{"hello, world!", "x", "prix: 5€"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, texts(tt.post.Apply(in)))
		})
	}
}

func TestTesseractEngine(t *testing.T) {
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
	img := image.NewRGBA(image.Rect(0, 0, 240, 80))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	d := &font.Drawer{Dst: img, Src: image.Black, Face: basicfont.Face7x13, Dot: fixed.P(10, 40)}
	d.DrawString("Hello Caption")

	p := filepath.Join(t.TempDir(), "hello.png")
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	ex, err := NewTesseractEngine(Options{Languages: []string{"eng"}, Post: PostProcessing{StripWhitespace: true}}).
		Extract(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, ModelName, ex.Model)
	require.NotEmpty(t, ex.Elements)
	assert.Contains(t, strings.ToLower(strings.Join(texts(ex.Elements), " ")), "hello")
}
