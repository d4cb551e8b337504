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
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cloudwego/captioner/internal/caption"
	"github.com/cloudwego/captioner/internal/log"
)

const PromptDescribeImage = "describe_image"

type ServerOptions struct {
	ServerName    string
	ServerVersion string
	Service       *caption.Service
}

type Server struct {
	Server *server.MCPServer
}

func NewServer(opts ServerOptions) *Server {
	s := server.NewMCPServer(
		opts.ServerName,
		opts.ServerVersion,
		server.WithToolCapabilities(false),
		server.WithPromptCapabilities(false),
		server.WithRecovery(),
	)
	for _, t := range getCaptionTools(opts.Service) {
		s.AddTool(t.Tool, t.Handler)
	}
	s.AddPrompt(mcp.NewPrompt(PromptDescribeImage,
		mcp.WithPromptDescription("Instructions the vision model receives for every image"),
	), handleDescribeImagePrompt)
	return &Server{Server: s}
}

// ServeStdio serves MCP over stdin and stdout until stdin is closed.
func (s *Server) ServeStdio() error {
	log.Info("serving MCP over stdio")
	return server.ServeStdio(s.Server)
}
