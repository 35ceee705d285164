package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	flowpilot "github.com/goliatone/go-flowpilot"
	"github.com/goliatone/go-flowpilot/commands"
	"github.com/goliatone/go-flowpilot/config"
	"github.com/goliatone/go-flowpilot/dispatcher"
	"github.com/goliatone/go-flowpilot/engine"
	"github.com/goliatone/go-flowpilot/schedule"
	"github.com/goliatone/go-flowpilot/session"
	"github.com/goliatone/go-flowpilot/storage"
	"github.com/goliatone/go-flowpilot/viewer"
)

type cli struct {
	Config    string `help:"Path to YAML config file." short:"c" default:"flowpilot.yml" type:"path"`
	LogLevel  string `help:"Log level: trace, debug, info, warn, error." default:"info"`
	LogFormat string `help:"Log format: text or json." default:"text"`

	Serve     serveCmd     `cmd:"" help:"Run the viewer server and maintenance jobs."`
	Generate  generateCmd  `cmd:"" help:"Submit a stored workflow and wait for its images."`
	Queue     queueCmd     `cmd:"" help:"Show the engine queue."`
	Interrupt interruptCmd `cmd:"" help:"Interrupt the currently executing workflow."`
	Restart   restartCmd   `cmd:"" help:"Restart the engine via the configured restart command."`
	Stats     statsCmd     `cmd:"" help:"Show engine system stats."`
	Models    modelsCmd    `cmd:"" help:"List models known to the engine."`
	Templates templatesCmd `cmd:"" help:"Inspect workflow templates."`
	Nodes     nodesCmd     `cmd:"" help:"Inspect the engine node catalog."`
	Workflow  workflowCmd  `cmd:"" help:"Manage stored workflows."`
	History   historyCmd   `cmd:"" help:"Show recent generation history for an owner."`
	Gallery   galleryCmd   `cmd:"" help:"List recent output images."`
	View      viewCmd      `cmd:"" help:"Create a viewer session link for a stored workflow."`
}

// app carries the wired services into command Run methods.
type app struct {
	cfg      config.Config
	logger   flowpilot.Logger
	engine   *engine.Client
	store    *storage.Store
	sessions session.Registry
	service  *commands.Service
	cleanup  []func()
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}

func buildApp(ctx context.Context, c *cli) (*app, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	logger := flowpilot.NewGlogLogger(c.LogLevel, c.LogFormat, os.Stderr)

	store, err := storage.New(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: store}

	if cfg.Viewer.RedisURL != "" {
		registry, err := session.NewRedisRegistry(ctx, cfg.Viewer.RedisURL,
			session.WithRedisTTL(cfg.Viewer.SessionTTL))
		if err != nil {
			return nil, err
		}
		a.sessions = registry
		a.cleanup = append(a.cleanup, func() { registry.Close() })
	} else {
		a.sessions = session.NewMemoryRegistry(session.WithTTL(cfg.Viewer.SessionTTL))
	}

	engineOpts := []engine.Option{engine.WithLogger(logger)}
	if cfg.Storage.TemplatesDir != "" {
		engineOpts = append(engineOpts, engine.WithTemplatesDir(cfg.Storage.TemplatesDir))
	}
	a.engine = engine.NewClient(cfg.Engine.HTTPURL, cfg.Engine.WSURL, engineOpts...)

	a.service = commands.NewService(a.engine, store, a.sessions,
		commands.WithLogger(logger),
		commands.WithOutputDir(cfg.Storage.SharedOutputDir),
		commands.WithDownloadDir(cfg.Storage.DownloadDir),
		commands.WithViewerURL(cfg.Viewer.BaseURL),
		commands.WithProgressObserver(func(ev engine.ProgressEvent) {
			fmt.Fprintf(os.Stderr, "\rnode %s: %.0f/%.0f", ev.NodeID, ev.Value, ev.Max)
		}),
	)

	subs := a.service.Register()
	a.cleanup = append(a.cleanup, func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	})

	return a, nil
}

type serveCmd struct{}

func (s *serveCmd) Run(ctx context.Context, a *app) error {
	server := viewer.NewServer(a.sessions, a.store,
		viewer.WithAddr(a.cfg.Viewer.Addr),
		viewer.WithBaseURL(a.cfg.Viewer.BaseURL),
		viewer.WithLogger(a.logger),
	)

	scheduler := schedule.NewScheduler()
	if _, err := scheduler.AddCronCommand(commands.HistoryTrimJob{
		Store:  a.store,
		Limit:  a.cfg.Storage.HistoryLimit,
		Logger: a.logger,
	}); err != nil {
		return err
	}
	if memory, ok := a.sessions.(*session.MemoryRegistry); ok {
		if _, err := scheduler.AddCronCommand(commands.SessionSweepJob{
			Sessions: memory,
			Logger:   a.logger,
		}); err != nil {
			return err
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop(ctx)

	a.logger.Info("serving", "addr", a.cfg.Viewer.Addr, "base_url", a.cfg.Viewer.BaseURL)
	return server.Start(ctx)
}

type generateCmd struct {
	Owner    string `help:"Owner id the workflow belongs to." required:""`
	Workflow string `help:"Stored workflow name." default:"default"`
	ClientID string `help:"Engine client id. Generated when empty."`
}

func (g *generateCmd) Run(ctx context.Context, a *app) error {
	result, err := dispatcher.Query[commands.GenerateCommand, commands.GenerateResult](ctx, commands.GenerateCommand{
		OwnerID:  g.Owner,
		Workflow: g.Workflow,
		ClientID: g.ClientID,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr)
	fmt.Printf("prompt %s finished in %s\n", result.PromptID, result.Duration.Round(time.Millisecond))
	for _, image := range result.Images {
		fmt.Println(image)
	}
	return nil
}

type queueCmd struct {
	Clear bool `help:"Clear all pending jobs instead of listing."`
}

func (q *queueCmd) Run(ctx context.Context, a *app) error {
	if q.Clear {
		return dispatcher.Dispatch(ctx, commands.ClearQueueCommand{})
	}

	snapshot, err := dispatcher.Query[commands.QueueStateQuery, commands.QueueSnapshot](ctx, commands.QueueStateQuery{})
	if err != nil {
		return err
	}
	if snapshot.Empty() {
		fmt.Println("queue is empty")
		return nil
	}

	printJobs("running", snapshot.Running)
	printJobs("pending", snapshot.Pending)
	printJobs("finished", snapshot.Finished)
	return nil
}

func printJobs(phase string, jobs []commands.JobInfo) {
	if len(jobs) == 0 {
		return
	}
	fmt.Printf("%s (%d):\n", phase, len(jobs))
	for _, job := range jobs {
		fmt.Printf("  %s\n", job.Label)
	}
}

type interruptCmd struct{}

func (i *interruptCmd) Run(ctx context.Context, a *app) error {
	return dispatcher.Dispatch(ctx, commands.InterruptCommand{})
}

type restartCmd struct{}

func (r *restartCmd) Run(ctx context.Context, a *app) error {
	return a.engine.Restart(ctx, a.cfg.Engine.RestartCommand)
}

type statsCmd struct{}

func (s *statsCmd) Run(ctx context.Context, a *app) error {
	stats, err := a.engine.SystemStats(ctx)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

type modelsCmd struct {
	Type    string `help:"Model type, e.g. checkpoints, loras." default:"checkpoints"`
	Refresh bool   `help:"Bypass the cached listing."`
}

func (m *modelsCmd) Run(ctx context.Context, a *app) error {
	models, err := dispatcher.Query[commands.ListModelsQuery, []string](ctx, commands.ListModelsQuery{
		ModelType: m.Type,
		Refresh:   m.Refresh,
	})
	if err != nil {
		return err
	}
	if len(models) == 0 {
		fmt.Printf("no %s models found\n", m.Type)
		return nil
	}
	for _, name := range models {
		fmt.Println(name)
	}
	return nil
}

type templatesCmd struct {
	List templatesListCmd `cmd:"" default:"1" help:"List workflow templates."`
	Show templatesShowCmd `cmd:"" help:"Print a template's workflow JSON."`
}

type templatesListCmd struct {
	Refresh bool `help:"Bypass the cached listing."`
}

func (t *templatesListCmd) Run(ctx context.Context, a *app) error {
	templates, err := dispatcher.Query[commands.TemplatesQuery, []engine.Template](ctx, commands.TemplatesQuery{
		Refresh: t.Refresh,
	})
	if err != nil {
		return err
	}
	for _, tpl := range templates {
		line := tpl.Name
		if tpl.Category != "" {
			line += " [" + tpl.Category + "]"
		}
		fmt.Printf("%s\t%s\t(%s)\n", tpl.ID, line, tpl.Source)
	}
	return nil
}

type templatesShowCmd struct {
	ID      string `arg:"" help:"Template id or name."`
	Refresh bool   `help:"Bypass the cached listing."`
}

func (t *templatesShowCmd) Run(ctx context.Context, a *app) error {
	templates, err := dispatcher.Query[commands.TemplatesQuery, []engine.Template](ctx, commands.TemplatesQuery{
		Refresh: t.Refresh,
	})
	if err != nil {
		return err
	}
	for _, tpl := range templates {
		if tpl.ID != t.ID && tpl.Name != t.ID {
			continue
		}
		workflow, err := a.engine.Template(ctx, tpl)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(workflow, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	return fmt.Errorf("no template named %q", t.ID)
}

type nodesCmd struct {
	Class   string `arg:"" optional:"" help:"Node class to inspect. Lists all class names when omitted."`
	Refresh bool   `help:"Bypass the cached node catalog."`
}

func (n *nodesCmd) Run(ctx context.Context, a *app) error {
	info, err := a.engine.ObjectInfo(ctx, n.Refresh)
	if err != nil {
		return err
	}

	if n.Class != "" {
		entry, ok := info[n.Class]
		if !ok {
			return fmt.Errorf("unknown node class %q", n.Class)
		}
		out, err := json.MarshalIndent(entry, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	names := make([]string, 0, len(info))
	for name := range info {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

type workflowCmd struct {
	List   workflowListCmd   `cmd:"" help:"List an owner's stored workflows."`
	Save   workflowSaveCmd   `cmd:"" help:"Store a workflow JSON file under a name."`
	Delete workflowDeleteCmd `cmd:"" help:"Delete a stored workflow."`
}

type workflowListCmd struct {
	Owner string `help:"Owner id." required:""`
}

func (w *workflowListCmd) Run(ctx context.Context, a *app) error {
	names, err := a.store.List(w.Owner)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("no workflows stored")
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

type workflowSaveCmd struct {
	Owner string `help:"Owner id." required:""`
	Name  string `help:"Workflow name." default:"default"`
	File  string `arg:"" help:"Workflow JSON file, API format." type:"existingfile"`
}

func (w *workflowSaveCmd) Run(ctx context.Context, a *app) error {
	raw, err := os.ReadFile(w.File)
	if err != nil {
		return err
	}
	var workflow map[string]any
	if err := json.Unmarshal(raw, &workflow); err != nil {
		return fmt.Errorf("%s is not a workflow document: %w", w.File, err)
	}
	path, err := a.store.Save(w.Owner, w.Name, workflow)
	if err != nil {
		return err
	}
	fmt.Printf("saved %s\n", path)
	return nil
}

type workflowDeleteCmd struct {
	Owner string `help:"Owner id." required:""`
	Name  string `arg:"" help:"Workflow name."`
}

func (w *workflowDeleteCmd) Run(ctx context.Context, a *app) error {
	return a.store.Delete(w.Owner, w.Name)
}

type historyCmd struct {
	Owner string `help:"Owner id." required:""`
	Limit int    `help:"Entries to show." default:"5"`
}

func (h *historyCmd) Run(ctx context.Context, a *app) error {
	result, err := dispatcher.Query[commands.HistoryQuery, commands.HistoryResult](ctx, commands.HistoryQuery{
		OwnerID: h.Owner,
		Limit:   h.Limit,
	})
	if err != nil {
		return err
	}
	if result.Total == 0 {
		fmt.Println("no history")
		return nil
	}

	fmt.Printf("showing %d of %d entries\n", len(result.Entries), result.Total)
	for _, entry := range result.Entries {
		var parts []string
		if v, ok := entry["created_at"].(string); ok {
			parts = append(parts, v)
		}
		if v, ok := entry["prompt_id"].(string); ok {
			parts = append(parts, v)
		}
		if v, ok := entry["workflow"].(string); ok {
			parts = append(parts, v)
		}
		fmt.Println(strings.Join(parts, "  "))
	}
	return nil
}

type galleryCmd struct {
	Limit int `help:"Images to show." default:"10"`
}

func (g *galleryCmd) Run(ctx context.Context, a *app) error {
	files, err := dispatcher.Query[commands.GalleryQuery, []engine.OutputFile](ctx, commands.GalleryQuery{Limit: g.Limit})
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("no images yet")
		return nil
	}
	for _, file := range files {
		fmt.Printf("%s\t%s\n", file.ModTime.Format(time.RFC3339), file.Path)
	}
	return nil
}

type viewCmd struct {
	Owner    string `help:"Owner id." required:""`
	Workflow string `help:"Stored workflow name." default:"default"`
}

func (v *viewCmd) Run(ctx context.Context, a *app) error {
	link, err := dispatcher.Query[commands.OpenViewerCommand, commands.ViewerLink](ctx, commands.OpenViewerCommand{
		OwnerID:  v.Owner,
		Workflow: v.Workflow,
	})
	if err != nil {
		return err
	}
	fmt.Println(link.URL)
	return nil
}

func main() {
	var c cli
	parsed := kong.Parse(&c,
		kong.Name("flowpilot"),
		kong.Description("Control plane for a node-graph generation engine."),
		kong.UsageOnError(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, &c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowpilot: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	parsed.BindTo(ctx, (*context.Context)(nil))
	parsed.Bind(a)
	parsed.FatalIfErrorf(parsed.Run())
}
