/**
 * Copyright 2025 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package mcp

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"

	"github.com/cloudwego/captioner/internal/caption"
	"github.com/cloudwego/captioner/internal/pipeline"
	"github.com/cloudwego/captioner/internal/utils"
	"github.com/cloudwego/captioner/llm/prompt"
)

const (
	ToolCaptionImage     = "caption_image"
	ToolGetPipelineState = "get_pipeline_state"

	DescCaptionImage = "Run the caption pipeline (text extraction, vision analysis, text correction, translation) " +
		"on a local image file and return the aggregated record."
	DescGetPipelineState = "Return the persisted pipeline state of a local image file, as written by batch runs."
)

var (
	SchemaCaptionImage     = GetJSONSchema(CaptionImageReq{})
	SchemaGetPipelineState = GetJSONSchema(GetPipelineStateReq{})
)

// GetJSONSchema reflects the input schema of a tool request type.
func GetJSONSchema(v any) json.RawMessage {
	r := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true, AllowAdditionalProperties: false}
	js, err := json.Marshal(r.Reflect(v))
	if err != nil {
		panic(err)
	}
	return js
}

type Tool struct {
	mcp.Tool
	Handler func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

func NewTool[R any, T any](name string, desc string, schema json.RawMessage, handler func(ctx context.Context, req R) (*T, error)) Tool {
	return Tool{
		Tool: mcp.NewToolWithRawSchema(name, desc, schema),
		Handler: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var req R
			if err := request.BindArguments(&req); err != nil {
				return nil, err
			}
			var final string
			var isError bool
			if resp, err := handler(ctx, req); err != nil {
				isError = true
				final = err.Error()
			} else if js, err := utils.MarshalJSONBytes(resp); err != nil {
				isError = true
				final = err.Error()
			} else {
				final = string(js)
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(final),
				},
				IsError: isError,
			}, nil
		},
	}
}

type CaptionImageReq struct {
	ImagePath string `json:"image_path" jsonschema:"required,description=absolute path of the image file"`
	caption.Request
}

type CaptionImageResp struct {
	OverallStatus pipeline.Status            `json:"overall_status"`
	Steps         map[string]pipeline.Status `json:"steps"`
	Errors        map[string]string          `json:"errors,omitempty"`
	Record        pipeline.Payload           `json:"record,omitempty"`
}

type GetPipelineStateReq struct {
	ImagePath string `json:"image_path" jsonschema:"required,description=image path used as the state key"`
}

type captionTools struct {
	svc *caption.Service
}

func (c captionTools) CaptionImage(ctx context.Context, req CaptionImageReq) (*CaptionImageResp, error) {
	if req.ImagePath == "" {
		return nil, errors.New("image_path is required")
	}
	st, err := c.svc.Caption(ctx, req.ImagePath, req.Request)
	if err != nil {
		return nil, err
	}
	resp := &CaptionImageResp{
		OverallStatus: st.OverallStatus,
		Steps:         make(map[string]pipeline.Status),
		Record:        caption.Record(st),
	}
	for _, name := range pipeline.Sequence {
		if rec, ok := st.Record(name); ok {
			resp.Steps[name] = rec.Status
		}
	}
	for _, f := range st.FailedRecords() {
		if resp.Errors == nil {
			resp.Errors = make(map[string]string)
		}
		resp.Errors[f[0]] = f[1]
	}
	return resp, nil
}

func (c captionTools) GetPipelineState(ctx context.Context, req GetPipelineStateReq) (*pipeline.PipelineState, error) {
	if req.ImagePath == "" {
		return nil, errors.New("image_path is required")
	}
	st, err := c.svc.State(ctx, req.ImagePath)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.Errorf("no pipeline state for %s", req.ImagePath)
	}
	return st, nil
}

func getCaptionTools(svc *caption.Service) []Tool {
	c := captionTools{svc: svc}
	return []Tool{
		NewTool(ToolCaptionImage, DescCaptionImage, SchemaCaptionImage, c.CaptionImage),
		NewTool(ToolGetPipelineState, DescGetPipelineState, SchemaGetPipelineState, c.GetPipelineState),
	}
}

func handleDescribeImagePrompt(
	ctx context.Context,
	request mcp.GetPromptRequest,
) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "A prompt for describing an image",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: prompt.PromptImageAgent,
				},
			},
		},
	}, nil
}
