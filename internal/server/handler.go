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


package server

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/cloudwego/captioner/internal/caption"
	"github.com/cloudwego/captioner/internal/log"
	"github.com/cloudwego/captioner/internal/pipeline/steps"
)

type CaptionHandler struct {
	svc       *caption.Service
	maxUpload int64
}

func NewCaptionHandler(svc *caption.Service, maxUpload int64) *CaptionHandler {
	return &CaptionHandler{svc: svc, maxUpload: maxUpload}
}

// Caption runs the pipeline on the uploaded "image" part and answers with the
// aggregated record, or with the whole state when aggregation is disabled.
func (h *CaptionHandler) Caption(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_form", err.Error())
		return
	}
	req, err := parseRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image_required", "multipart field \"image\" is required")
		return
	}
	defer file.Close()
	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) {
		writeError(w, http.StatusBadRequest, "image_required", "uploaded image has no file name")
		return
	}

	dir, err := os.MkdirTemp("", "captioner-upload-*")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, name)
	if err := saveUpload(file, path); err != nil {
		writeError(w, http.StatusInternalServerError, "upload_failed", err.Error())
		return
	}

	st, err := h.svc.Caption(r.Context(), path, req)
	switch {
	case errors.Is(err, caption.ErrUnsupportedFormat):
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_format", err.Error())
		return
	case errors.Is(err, caption.ErrNoSteps):
		writeError(w, http.StatusBadRequest, "no_steps", err.Error())
		return
	case err != nil:
		log.Error("caption %s: %v", name, err)
		writeError(w, http.StatusInternalServerError, "pipeline_failed", err.Error())
		return
	}

	if rec := caption.Record(st); rec != nil {
		rec["image_path"] = name
		writeJSON(w, http.StatusOK, rec)
		return
	}
	st.ItemKey = name
	writeJSON(w, http.StatusOK, st)
}

// State returns the persisted state of the image at ?path=.
func (h *CaptionHandler) State(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path_required", "query parameter \"path\" is required")
		return
	}
	st, err := h.svc.State(r.Context(), path)
	if err != nil {
		log.Error("load state of %s: %v", path, err)
		writeError(w, http.StatusInternalServerError, "state_unavailable", err.Error())
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "not_found", "no state for "+path)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func parseRequest(r *http.Request) (caption.Request, error) {
	var req caption.Request
	toggles := map[string]**bool{
		"ocr":         &req.OCR,
		"vision":      &req.Vision,
		"text":        &req.Text,
		"translation": &req.Translation,
	}
	for name, dst := range toggles {
		v := r.FormValue(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, errors.Errorf("%s: %q is not a boolean", name, v)
		}
		*dst = &b
	}
	req.VisionModel = r.FormValue("vision_model")
	req.TextModel = r.FormValue("text_model")
	return req, nil
}

func saveUpload(src io.Reader, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type stepToggles struct {
	OCR         bool `json:"ocr"`
	Vision      bool `json:"vision"`
	Text        bool `json:"text"`
	Translation bool `json:"translation"`
	Aggregation bool `json:"aggregation"`
}

// ConfigView is the effective pipeline configuration the server captions with.
type ConfigView struct {
	Steps            stepToggles `json:"steps"`
	EnabledSteps     []string    `json:"enabled_steps"`
	VisionModel      string      `json:"vision_model"`
	TextModel        string      `json:"text_model"`
	TranslationModel string      `json:"translation_model"`
	TargetLanguage   string      `json:"target_language"`
	SupportedFormats []string    `json:"supported_formats"`
}

// Config reports the configured toggles and models. EnabledSteps lists the
// steps a request without overrides runs, which leaves out steps whose engine
// is not configured.
func (h *CaptionHandler) Config(w http.ResponseWriter, _ *http.Request) {
	o := h.svc.Steps
	view := ConfigView{
		Steps: stepToggles{
			OCR:         o.OCR,
			Vision:      o.Vision,
			Text:        o.Correction,
			Translation: o.Translation,
			Aggregation: o.Aggregation,
		},
		EnabledSteps:     []string{},
		VisionModel:      o.VisionModel,
		TextModel:        o.TextModel,
		TranslationModel: o.TranslationModel,
		TargetLanguage:   o.TargetLanguage,
		SupportedFormats: h.svc.Formats,
	}
	for _, s := range steps.Build(o, h.svc.Engines) {
		view.EnabledSteps = append(view.EnabledSteps, s.Name())
	}
	writeJSON(w, http.StatusOK, view)
}
