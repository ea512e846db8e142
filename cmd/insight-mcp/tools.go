package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/nurbua/Image-Insight/internal/analysis"
	"github.com/nurbua/Image-Insight/internal/chat"
	"github.com/nurbua/Image-Insight/internal/cli"
	"github.com/nurbua/Image-Insight/internal/filehandler"
)

type imageInput struct {
	Path string `json:"path" jsonschema:"absolute path of a local image file"`
}

type analyzeOutput struct {
	Metadata *filehandler.ImageMetadata `json:"metadata,omitempty" jsonschema:"EXIF metadata, absent when the image has none"`
	Result   *chat.AnalysisResult       `json:"result" jsonschema:"titles, captions, literary excerpts and location"`
}

type metadataOutput struct {
	Metadata *filehandler.ImageMetadata `json:"metadata,omitempty" jsonschema:"EXIF metadata, absent when the image has none"`
}

type toolset struct {
	analyzer analysis.Analyzer
	maxBytes int64
}

const analyzeImageDescription = "Analyse a photo: two or three French titles, two or three captions, two literary excerpts and, when GPS data is present, the city, region and country."

func (t *toolset) register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "analyze_image",
		Description: analyzeImageDescription,
	}, t.analyzeImage)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "image_metadata",
		Description: "Read the camera and GPS metadata of a photo.",
	}, t.imageMetadata)
}

func (t *toolset) analyzeImage(ctx context.Context, _ *mcp.CallToolRequest, in imageInput) (*mcp.CallToolResult, analyzeOutput, error) {
	data, mimeType, err := t.readImage(in.Path)
	if err != nil {
		return nil, analyzeOutput{}, err
	}

	o := analysis.New(t.analyzer, analysis.WithPreviewSize(0))
	state, err := o.Analyze(ctx, analysis.Upload{
		FileName: filepath.Base(in.Path),
		MIMEType: mimeType,
		Data:     data,
	})
	if err != nil {
		log.Warn().Err(err).Str("path", in.Path).Msg("MCP analysis failed")
		return nil, analyzeOutput{}, errors.New(state.Error)
	}
	return nil, analyzeOutput{Metadata: state.Metadata, Result: state.Result}, nil
}

func (t *toolset) imageMetadata(_ context.Context, _ *mcp.CallToolRequest, in imageInput) (*mcp.CallToolResult, metadataOutput, error) {
	data, _, err := t.readImage(in.Path)
	if err != nil {
		return nil, metadataOutput{}, err
	}
	return nil, metadataOutput{Metadata: filehandler.ExtractImageMetadata(data)}, nil
}

func (t *toolset) readImage(path string) ([]byte, string, error) {
	path, err := cli.ResolveImagePath(path)
	if err != nil {
		return nil, "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", err
	}
	if t.maxBytes > 0 && info.Size() > t.maxBytes {
		return nil, "", fmt.Errorf("image is %d bytes, limit is %d", info.Size(), t.maxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	mimeType, err := filehandler.DetectMIMEType(path, data)
	if err != nil {
		return nil, "", err
	}
	return data, mimeType, nil
}
