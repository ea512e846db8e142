// Package analysis drives one user's image analysis session: metadata
// extraction, prompt composition, generation and publication of the result.
package analysis

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/nurbua/Image-Insight/internal/chat"
	"github.com/nurbua/Image-Insight/internal/filehandler"
	"github.com/nurbua/Image-Insight/internal/metrics"
	"github.com/nurbua/Image-Insight/internal/store"
	"github.com/rs/zerolog/log"
)

// GenericErrorMessage is the only error text shown to users, whatever failed.
const GenericErrorMessage = "Une erreur est survenue lors de l'analyse de l'image. Veuillez réessayer."

// ErrSuperseded is returned by Analyze when a newer analysis (or a Reset)
// started before this one finished. Its outcome was dropped.
var ErrSuperseded = errors.New("analysis superseded by a newer request")

// Phase is the lifecycle position of a session.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseAnalyzing Phase = "analyzing"
	PhaseReady     Phase = "ready"
	PhaseFailed    Phase = "failed"
)

// State is the observable session state. Result and Metadata are only set
// in PhaseReady.
type State struct {
	Phase    Phase                      `json:"phase"`
	FileName string                     `json:"fileName,omitempty"`
	MIMEType string                     `json:"mimeType,omitempty"`
	Preview  *filehandler.Preview       `json:"preview,omitempty"`
	Metadata *filehandler.ImageMetadata `json:"metadata"`
	Result   *chat.AnalysisResult       `json:"result"`
	Loading  bool                       `json:"loading"`
	Error    string                     `json:"error,omitempty"`
}

// Upload is one image submitted for analysis.
type Upload struct {
	FileName string
	MIMEType string
	Data     []byte
}

// Analyzer generates the structured analysis. *chat.Generator implements it.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte, mimeType string, prompt chat.AnalysisPrompt) (*chat.AnalysisResult, error)
}

// Extractor reads metadata from raw bytes, returning nil when none is found.
type Extractor func(data []byte) *filehandler.ImageMetadata

// PreviewFunc renders the display preview of an upload.
type PreviewFunc func(data []byte) (*filehandler.Preview, error)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithExtractor replaces filehandler.ExtractImageMetadata.
func WithExtractor(fn Extractor) Option {
	return func(o *Orchestrator) { o.extract = fn }
}

// WithPreviewSize sets the longest edge of generated previews. Zero disables
// preview generation.
func WithPreviewSize(maxDimension int) Option {
	return func(o *Orchestrator) {
		if maxDimension <= 0 {
			o.preview = nil
			return
		}
		o.preview = func(data []byte) (*filehandler.Preview, error) {
			return filehandler.GeneratePreview(data, maxDimension)
		}
	}
}

// WithSink hands successful analyses of userID to sink.
func WithSink(sink store.AnalysisSink, userID string) Option {
	return func(o *Orchestrator) {
		o.sink = sink
		o.userID = userID
	}
}

// Orchestrator owns one analysis session. Analyze may be called again while
// an earlier call is running; only the latest call publishes its outcome.
type Orchestrator struct {
	analyzer Analyzer
	extract  Extractor
	preview  PreviewFunc
	sink     store.AnalysisSink
	userID   string

	mu    sync.Mutex
	gen   uint64
	state State
	image []byte
}

// New creates an idle orchestrator.
func New(analyzer Analyzer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		analyzer: analyzer,
		extract:  filehandler.ExtractImageMetadata,
		state:    State{Phase: PhaseIdle},
	}
	WithPreviewSize(filehandler.DefaultPreviewMaxDimension)(o)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Image returns the bytes of the upload currently held by the session.
func (o *Orchestrator) Image() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.image)
}

// Reset returns the session to idle and drops any analysis in flight.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gen++
	o.state = State{Phase: PhaseIdle}
	o.image = nil
}

// Analyze runs the full pipeline for upload and returns the published state.
// A failure is published as GenericErrorMessage; the underlying error is
// returned for logging. ErrSuperseded means nothing was published.
func (o *Orchestrator) Analyze(ctx context.Context, upload Upload) (State, error) {
	start := time.Now()

	o.mu.Lock()
	o.gen++
	gen := o.gen
	o.state = State{
		Phase:    PhaseAnalyzing,
		FileName: upload.FileName,
		MIMEType: upload.MIMEType,
		Loading:  true,
	}
	o.image = upload.Data
	o.mu.Unlock()

	log.Info().
		Str("file", upload.FileName).
		Str("mime_type", upload.MIMEType).
		Int("size", len(upload.Data)).
		Msg("Analysis started")

	if o.preview != nil {
		preview, err := o.preview(upload.Data)
		if err != nil {
			log.Debug().Err(err).Str("file", upload.FileName).Msg("Preview unavailable")
		} else {
			o.mu.Lock()
			if gen == o.gen {
				o.state.Preview = preview
			}
			o.mu.Unlock()
		}
	}

	meta := o.extract(upload.Data)
	var gps *filehandler.GPS
	if meta.HasGPS() {
		gps = meta.GPS
	}
	prompt := chat.ComposeAnalysisPrompt(gps)

	result, err := o.analyzer.Analyze(ctx, upload.Data, upload.MIMEType, prompt)

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		log.Info().Str("file", upload.FileName).Msg("Dropping superseded analysis outcome")
		recordOutcome("superseded", start)
		return State{}, ErrSuperseded
	}
	o.state.Loading = false
	if err != nil {
		o.state.Phase = PhaseFailed
		o.state.Error = GenericErrorMessage
	} else {
		o.state.Phase = PhaseReady
		o.state.Metadata = meta
		o.state.Result = result
	}
	published := o.state
	o.mu.Unlock()

	if err != nil {
		logFailure(err, upload.FileName)
		recordOutcome("failed", start)
		return published, err
	}

	log.Info().
		Str("file", upload.FileName).
		Bool("has_metadata", meta != nil).
		Bool("has_location", result.Location != nil).
		Dur("duration", time.Since(start)).
		Msg("Analysis complete")
	recordOutcome("ready", start)

	o.save(ctx, upload, meta, result)
	return published, nil
}

// save hands a successful analysis to the history sink. Failures are logged
// only.
func (o *Orchestrator) save(ctx context.Context, upload Upload, meta *filehandler.ImageMetadata, result *chat.AnalysisResult) {
	if o.sink == nil || o.userID == "" {
		return
	}
	rec, err := o.sink.SaveAnalysis(context.WithoutCancel(ctx), store.AnalysisUpload{
		UserID:   o.userID,
		FileName: upload.FileName,
		MIMEType: upload.MIMEType,
		Image:    upload.Data,
		Metadata: meta,
		Result:   result,
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", o.userID).Str("file", upload.FileName).Msg("Failed to save analysis history")
		return
	}
	log.Debug().Str("analysis_id", rec.ID).Msg("Analysis history saved")
}

func logFailure(err error, fileName string) {
	var malformed *chat.MalformedResponse
	if errors.As(err, &malformed) {
		log.Error().
			Err(err).
			Str("file", fileName).
			Str("failure", "malformed_response").
			Str("response_preview", malformed.Preview(200)).
			Msg("Analysis failed")
		return
	}
	failure := chat.ClassifyError(err)
	log.Error().
		Err(err).
		Str("file", fileName).
		Str("failure", failure.Kind.String()).
		Msg("Analysis failed")
}

func recordOutcome(outcome string, start time.Time) {
	metrics.New().
		Dimension("Operation", "analysis").
		Dimension("Result", outcome).
		Duration("AnalysisLatencyMs", time.Since(start)).
		Count("AnalysisResult").
		Flush()
}
