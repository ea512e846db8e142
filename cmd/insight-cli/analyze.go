package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nurbua/Image-Insight/internal/analysis"
	"github.com/nurbua/Image-Insight/internal/chat"
	"github.com/nurbua/Image-Insight/internal/cli"
	"github.com/nurbua/Image-Insight/internal/filehandler"
)

var (
	jsonFlag bool
	saveFlag bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [image]",
	Short: "Analyse one image",
	Long: `Analyse one image and print titles, captions, literary excerpts and the
shooting location. Without an argument a file picker opens.

With --save the image and its analysis are stored in the configured
backend (STORE_BACKEND, MEDIA_BUCKET) under --user.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the result as JSON")
	analyzeCmd.Flags().BoolVar(&saveFlag, "save", false, "Store the image and its analysis")
}

// analysisOutput is the --json document.
type analysisOutput struct {
	File     string                     `json:"file"`
	MIMEType string                     `json:"mimeType"`
	Metadata *filehandler.ImageMetadata `json:"metadata"`
	Result   *chat.AnalysisResult       `json:"result"`
}

func runAnalyze(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		picked, err := cli.PickImage()
		if errors.Is(err, cli.ErrCanceled) {
			fmt.Fprintln(os.Stderr, "Aucune image choisie.")
			return
		}
		if err != nil {
			log.Fatal().Err(err).Msg("No image selected")
		}
		path = picked
	}

	path, err := cli.ResolveImagePath(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid image path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to read image")
	}
	if int64(len(data)) > cfg.MaxUploadBytes {
		log.Fatal().Int("size", len(data)).Int64("max", cfg.MaxUploadBytes).Msg("Image too large")
	}
	mimeType, err := filehandler.DetectMIMEType(path, data)
	if err != nil {
		log.Fatal().Err(err).Msg("Unsupported image")
	}

	res, key := openBackends(ctx, cfg)
	defer res.Close()

	generator := cli.InitGenerator(ctx, key, modelName(cfg))

	opts := []analysis.Option{analysis.WithPreviewSize(0)}
	if saveFlag {
		opts = append(opts, analysis.WithSink(res.Analyses, userFlag))
	}
	o := analysis.New(generator, opts...)

	start := time.Now()
	state, err := o.Analyze(ctx, analysis.Upload{
		FileName: filepath.Base(path),
		MIMEType: mimeType,
		Data:     data,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, state.Error)
		log.Fatal().Err(err).Str("path", path).Msg("Analysis failed")
	}
	log.Info().
		Str("file", state.FileName).
		Str("elapsed", cli.FormatDurationShort(time.Since(start))).
		Bool("saved", saveFlag).
		Msg("Analysis complete")

	if jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(analysisOutput{
			File:     path,
			MIMEType: state.MIMEType,
			Metadata: state.Metadata,
			Result:   state.Result,
		}); err != nil {
			log.Fatal().Err(err).Msg("Failed to write JSON")
		}
		return
	}

	if err := cli.WriteReport(os.Stdout, state.FileName, state.Metadata, state.Result); err != nil {
		log.Fatal().Err(err).Msg("Failed to write report")
	}
}
