package commands

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	flowpilot "github.com/goliatone/go-flowpilot"
	"github.com/goliatone/go-flowpilot/dispatcher"
	"github.com/goliatone/go-flowpilot/engine"
	"github.com/goliatone/go-flowpilot/runner"
	"github.com/goliatone/go-flowpilot/session"
	"github.com/goliatone/go-flowpilot/storage"
)

// EngineClient is the slice of the engine API the control plane uses.
type EngineClient interface {
	SubmitWorkflow(ctx context.Context, workflow map[string]any, clientID string) (string, string, error)
	TrackProgress(ctx context.Context, clientID, promptID string) (<-chan engine.Event, error)
	History(ctx context.Context, promptID string) (map[string]any, error)
	DownloadImages(ctx context.Context, outputs map[string]any, targetDir string) ([]string, error)
	Interrupt(ctx context.Context) error
	ClearQueue(ctx context.Context) error
	QueueState(ctx context.Context) (map[string]any, error)
	ListModels(ctx context.Context, modelType string, refresh bool) ([]string, error)
	Templates(ctx context.Context, refresh bool) ([]engine.Template, error)
}

// Service implements the control-plane operations over the engine,
// workflow store and session registry.
type Service struct {
	engine   EngineClient
	store    *storage.Store
	sessions session.Registry
	logger   flowpilot.Logger

	// outputDir is the engine's local output directory, consulted
	// before falling back to HTTP downloads.
	outputDir   string
	downloadDir string
	viewerURL   string

	onProgress func(engine.ProgressEvent)
	control    runner.ExecutionControl
}

type Option func(*Service)

func WithLogger(logger flowpilot.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOutputDir points at the engine's output directory for local
// file pickup.
func WithOutputDir(dir string) Option {
	return func(s *Service) {
		s.outputDir = dir
	}
}

// WithDownloadDir sets where images land when fetched over HTTP.
func WithDownloadDir(dir string) Option {
	return func(s *Service) {
		s.downloadDir = dir
	}
}

// WithViewerURL sets the externally reachable viewer base URL used by
// OpenViewer links.
func WithViewerURL(base string) Option {
	return func(s *Service) {
		s.viewerURL = strings.TrimRight(base, "/")
	}
}

// WithProgressObserver registers a callback invoked for every progress
// event while a generation runs.
func WithProgressObserver(fn func(engine.ProgressEvent)) Option {
	return func(s *Service) {
		s.onProgress = fn
	}
}

// WithExecutionControl attaches a cooperative control consulted while a
// generation streams progress. Pausing the control suspends event
// forwarding; canceling it interrupts the in-flight engine run.
func WithExecutionControl(ctl runner.ExecutionControl) Option {
	return func(s *Service) {
		s.control = ctl
	}
}

// NewService wires the control-plane dependencies together.
func NewService(eng EngineClient, store *storage.Store, sessions session.Registry, opts ...Option) *Service {
	s := &Service{
		engine:    eng,
		store:     store,
		sessions:  sessions,
		logger:    flowpilot.NewFmtLogger(nil),
		viewerURL: "http://127.0.0.1:8090",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Register subscribes every operation on the default dispatcher and
// returns the subscriptions for teardown.
func (s *Service) Register() []dispatcher.Subscription {
	return []dispatcher.Subscription{
		dispatcher.SubscribeQueryFunc(flowpilot.QueryFunc[GenerateCommand, GenerateResult](s.Generate)),
		dispatcher.SubscribeCommandFunc(flowpilot.CommandFunc[InterruptCommand](s.Interrupt)),
		dispatcher.SubscribeCommandFunc(flowpilot.CommandFunc[ClearQueueCommand](s.ClearQueue)),
		dispatcher.SubscribeQueryFunc(flowpilot.QueryFunc[QueueStateQuery, QueueSnapshot](s.QueueState)),
		dispatcher.SubscribeQueryFunc(flowpilot.QueryFunc[ListModelsQuery, []string](s.ListModels)),
		dispatcher.SubscribeQueryFunc(flowpilot.QueryFunc[TemplatesQuery, []engine.Template](s.Templates)),
		dispatcher.SubscribeQueryFunc(flowpilot.QueryFunc[HistoryQuery, HistoryResult](s.History)),
		dispatcher.SubscribeQueryFunc(flowpilot.QueryFunc[GalleryQuery, []engine.OutputFile](s.Gallery)),
		dispatcher.SubscribeQueryFunc(flowpilot.QueryFunc[OpenViewerCommand, ViewerLink](s.OpenViewer)),
	}
}

// GenerateResult reports one finished generation run.
type GenerateResult struct {
	PromptID string        `json:"prompt_id"`
	Images   []string      `json:"images,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Generate loads the named workflow, submits it, follows progress to the
// terminal frame, resolves output images and appends a history entry.
func (s *Service) Generate(ctx context.Context, cmd GenerateCommand) (GenerateResult, error) {
	var zero GenerateResult

	workflow, err := s.store.Load(cmd.OwnerID, cmd.Workflow)
	if err != nil {
		return zero, err
	}

	started := time.Now()
	promptID, clientID, err := s.engine.SubmitWorkflow(ctx, workflow, cmd.ClientID)
	if err != nil {
		return zero, err
	}
	s.logger.Info("workflow submitted", "prompt_id", promptID, "owner", cmd.OwnerID)

	terminal, err := s.followProgress(ctx, clientID, promptID)
	if err != nil {
		return zero, err
	}
	if terminal != nil {
		if execErr := executionError(terminal.Data); execErr != "" {
			return zero, flowpilot.NewFetchFailure(execErr, nil, map[string]any{
				"prompt_id": promptID,
			})
		}
	}

	images, err := s.resolveImages(ctx, promptID)
	if err != nil {
		s.logger.Error("output resolution failed", "error", err, "prompt_id", promptID)
	}

	entry := map[string]any{
		"prompt_id":   promptID,
		"workflow":    cmd.Workflow,
		"image_count": len(images),
		"duration_ms": time.Since(started).Milliseconds(),
	}
	if err := s.store.AppendHistory(cmd.OwnerID, entry, 0); err != nil {
		s.logger.Error("history append failed", "error", err, "owner", cmd.OwnerID)
	}

	return GenerateResult{
		PromptID: promptID,
		Images:   images,
		Duration: time.Since(started),
	}, nil
}

// followProgress drains the tracking stream, forwarding progress to the
// observer, and returns the terminal frame if one arrived. When an
// execution control is attached the loop honors pause between events
// and stops the engine run on cancel.
func (s *Service) followProgress(ctx context.Context, clientID, promptID string) (*engine.ExecutionResult, error) {
	events, err := s.engine.TrackProgress(ctx, clientID, promptID)
	if err != nil {
		return nil, err
	}

	var done <-chan struct{}
	if s.control != nil {
		done = s.control.Done()
	}

	var terminal *engine.ExecutionResult
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
			return nil, s.cancelRun(ctx, promptID)
		case event, ok := <-events:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return terminal, nil
			}
			if s.control != nil {
				if err := s.control.WaitIfPaused(ctx); err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					return nil, s.cancelRun(ctx, promptID)
				}
			}
			switch ev := event.(type) {
			case *engine.ProgressEvent:
				if s.onProgress != nil {
					s.onProgress(*ev)
				}
			case *engine.ExecutionResult:
				terminal = ev
			}
		}
	}
}

// cancelRun interrupts the in-flight prompt and reports the cancel
// cause recorded on the control.
func (s *Service) cancelRun(ctx context.Context, promptID string) error {
	cause := runner.ErrExecutionCanceled
	if s.control != nil {
		if c := s.control.CancelCause(); c != nil {
			cause = c
		}
	}
	if err := s.engine.Interrupt(ctx); err != nil {
		s.logger.Error("interrupt after cancel failed", "error", err, "prompt_id", promptID)
	}
	s.logger.Warn("generation canceled", "prompt_id", promptID, "cause", cause)
	return cause
}

// resolveImages prefers files already on local disk over downloading.
func (s *Service) resolveImages(ctx context.Context, promptID string) ([]string, error) {
	history, err := s.engine.History(ctx, promptID)
	if err != nil {
		return nil, err
	}

	outputs := engine.GatherOutputs(history, promptID)
	if len(outputs) == 0 {
		return nil, nil
	}

	if s.outputDir != "" {
		if local := engine.LocateOutputFiles(outputs, s.outputDir); len(local) > 0 {
			return local, nil
		}
	}

	targetDir := s.downloadDir
	if targetDir == "" {
		targetDir = "."
	}
	return s.engine.DownloadImages(ctx, outputs, targetDir)
}

func (s *Service) Interrupt(ctx context.Context, _ InterruptCommand) error {
	return s.engine.Interrupt(ctx)
}

func (s *Service) ClearQueue(ctx context.Context, _ ClearQueueCommand) error {
	return s.engine.ClearQueue(ctx)
}

func (s *Service) QueueState(ctx context.Context, _ QueueStateQuery) (QueueSnapshot, error) {
	state, err := s.engine.QueueState(ctx)
	if err != nil {
		return QueueSnapshot{}, err
	}
	return normalizeQueueState(state), nil
}

func (s *Service) ListModels(ctx context.Context, query ListModelsQuery) ([]string, error) {
	return s.engine.ListModels(ctx, query.ModelType, query.Refresh)
}

func (s *Service) Templates(ctx context.Context, query TemplatesQuery) ([]engine.Template, error) {
	return s.engine.Templates(ctx, query.Refresh)
}

// HistoryResult carries a page of run history plus the total on record.
type HistoryResult struct {
	Entries []map[string]any `json:"entries"`
	Total   int              `json:"total"`
}

func (s *Service) History(_ context.Context, query HistoryQuery) (HistoryResult, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 5
	}
	entries, total, err := s.store.RecentHistory(query.OwnerID, limit)
	if err != nil {
		return HistoryResult{}, err
	}
	return HistoryResult{Entries: entries, Total: total}, nil
}

func (s *Service) Gallery(_ context.Context, query GalleryQuery) ([]engine.OutputFile, error) {
	if s.outputDir == "" {
		return nil, nil
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 10
	}
	return engine.RecentOutputs(s.outputDir, limit)
}

// ViewerLink points a browser at the viewer page for one session.
type ViewerLink struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

func (s *Service) OpenViewer(ctx context.Context, cmd OpenViewerCommand) (ViewerLink, error) {
	name := cmd.Workflow
	if name == "" {
		name = storage.DefaultWorkflowName
	}
	if !s.store.Has(cmd.OwnerID, name) {
		return ViewerLink{}, storage.ErrWorkflowNotFound.Clone().WithMetadata(map[string]any{
			"owner_id": cmd.OwnerID,
			"name":     name,
		})
	}

	token, err := s.sessions.Create(ctx, session.Reference{
		OwnerID:  cmd.OwnerID,
		Workflow: name,
	})
	if err != nil {
		return ViewerLink{}, fmt.Errorf("create viewer session: %w", err)
	}

	return ViewerLink{
		SessionID: token,
		URL:       fmt.Sprintf("%s/?session=%s", s.viewerURL, url.QueryEscape(token)),
	}, nil
}

// executionError extracts a human-readable message from an
// execution_error terminal frame, or "" for completed runs.
func executionError(frame map[string]any) string {
	if frame == nil {
		return ""
	}
	if frameType, _ := frame["type"].(string); frameType != "execution_error" {
		return ""
	}

	if data, ok := frame["data"].(map[string]any); ok {
		for _, key := range []string{"exception_message", "error", "message"} {
			if text, ok := data[key].(string); ok && text != "" {
				return text
			}
		}
		if nodeType, ok := data["node_type"].(string); ok && nodeType != "" {
			return fmt.Sprintf("execution failed at %s", nodeType)
		}
	}
	return "execution failed"
}
