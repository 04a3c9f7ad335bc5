package cmd

import (
	"errors"
	"fmt"

	"github.com/harrison/webpilot/internal/agent"
	"github.com/harrison/webpilot/internal/browser"
	"github.com/harrison/webpilot/internal/config"
	"github.com/harrison/webpilot/internal/executor"
	"github.com/harrison/webpilot/internal/instructions"
	"github.com/harrison/webpilot/internal/learning"
	"github.com/harrison/webpilot/internal/ledger"
	"github.com/harrison/webpilot/internal/llm"
	"github.com/harrison/webpilot/internal/logger"
	"github.com/harrison/webpilot/internal/metrics"
	"github.com/spf13/cobra"
)

// app holds what a subcommand needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	home    string
	log     logger.RunLogger
	store   ledger.Store
	closers []func() error
}

// appOptions selects the optional parts openApp sets up.
type appOptions struct {
	fileLog bool // also write logs under log_dir
}

// openApp loads configuration (config file, then flags), builds the logger
// and opens the ledger store.
func openApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	cfg, home, err := config.Load(flagString(cmd, "config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.MergeWithFlags(
		changedString(cmd, "mode"),
		changedInt(cmd, "max-iterations"),
		changedString(cmd, "log-level"),
		changedString(cmd, "ledger-backend"),
	); err != nil {
		return nil, err
	}
	if changedString(cmd, "ledger-backend") != nil {
		// The default path depends on the backend.
		cfg.Ledger.Path = ""
		cfg.ResolvePaths(home)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg, home: home}

	console := logger.NewConsoleLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	a.log = console
	if opts.fileLog {
		fileLog, err := logger.NewFileLogger(cfg.LogDir, cfg.LogLevel)
		if err != nil {
			console.LogWarn(fmt.Sprintf("File logging disabled: %v", err))
		} else {
			a.log = logger.NewMultiLogger(console, fileLog)
			a.closers = append(a.closers, fileLog.Close)
		}
	}

	store, err := ledger.OpenStore(cfg.Ledger.Backend, cfg.Ledger.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return a, nil
}

// Close releases everything the app opened, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// model builds the model service. A missing API key is reported as
// llm.ErrMissingAPIKey.
func (a *app) model() (*llm.Service, error) {
	client, err := llm.NewAnthropicClient(llm.AnthropicConfig{
		APIKey:      a.cfg.APIKey(),
		Model:       a.cfg.LLM.Model,
		BaseURL:     a.cfg.LLM.BaseURL,
		MaxTokens:   a.cfg.LLM.MaxTokens,
		Temperature: a.cfg.LLM.Temperature,
		Timeout:     a.cfg.LLM.Timeout,
		MaxRetries:  a.cfg.LLM.MaxRetries,
		MaxWait:     a.cfg.LLM.RateLimitMaxWait,
		Logger:      a.log,
	})
	if err != nil {
		if errors.Is(err, llm.ErrMissingAPIKey) {
			return nil, fmt.Errorf("%w: set %s", err, a.cfg.LLM.APIKeyEnv)
		}
		return nil, err
	}
	return llm.NewService(client), nil
}

// optionalModel is model() for commands that can work without one.
func (a *app) optionalModel() *llm.Service {
	svc, err := a.model()
	if err != nil {
		a.log.LogWarn(fmt.Sprintf("Model unavailable, continuing without it: %v", err))
		return nil
	}
	return svc
}

// analyzer builds the failure-pattern analyzer. svc may be nil.
func (a *app) analyzer(svc *llm.Service, threshold float64) *learning.Analyzer {
	if svc == nil {
		return learning.NewAnalyzer(nil, threshold, a.log)
	}
	return learning.NewAnalyzer(svc, threshold, a.log)
}

// generator builds the instruction generator. svc may be nil.
func (a *app) generator(svc *llm.Service) (*instructions.Generator, error) {
	catalog, err := instructions.LoadCatalog(a.cfg.Templates.TasksFile)
	if err != nil {
		return nil, err
	}
	gc := instructions.GeneratorConfig{
		Catalog:       catalog,
		Repository:    instructions.NewRepository(a.cfg.Templates.Dir),
		Analyzer:      a.analyzer(svc, a.cfg.Analysis.FailureThreshold),
		Runs:          a.store,
		AnalysisLimit: a.cfg.Analysis.MaxRuns,
		SaveGenerated: a.cfg.Templates.SaveGenerated,
		Logger:        a.log,
	}
	if svc != nil {
		gc.Model = svc
	}
	return instructions.NewGenerator(gc), nil
}

// runner wires the browser session, executor, agent loop and ledger. The
// session is closed by a.Close.
func (a *app) runner(asker agent.Asker, handleSignals bool) (*agent.Runner, error) {
	svc, err := a.model()
	if err != nil {
		return nil, err
	}
	gen, err := a.generator(svc)
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector()
	session := browser.NewSession(&browser.ChromeConnector{
		CDPURL:         a.cfg.Browser.CDPURL,
		ConnectTimeout: a.cfg.Browser.ConnectTimeout,
		ActionTimeout:  a.cfg.Execution.DefaultTimeout,
	}, a.log)
	a.closers = append(a.closers, session.Close)

	exec, err := executor.NewExecutor(session, executor.Options{
		DownloadDir:      a.cfg.Download.OutputDir,
		DefaultWait:      a.cfg.Execution.DefaultTimeout,
		SuccessTimeout:   a.cfg.FormSubmit.SuccessTimeout,
		ResourceHosts:    a.cfg.Download.ResourceHosts,
		ControlWords:     a.cfg.Download.ControlWords,
		ReactDelay:       a.cfg.Download.ReactDelay,
		DiscoveryTimeout: a.cfg.Download.DiscoveryTimeout,
		MaxAttempts:      a.cfg.Download.MaxAttempts,
		DownloadTimeout:  a.cfg.Download.Timeout,
		Logger:           a.log,
		Recorder:         collector,
	})
	if err != nil {
		return nil, err
	}

	loopOpts := []agent.LoopOption{agent.WithLogger(a.log), agent.WithToolMetrics(collector)}
	if asker != nil {
		loopOpts = append(loopOpts, agent.WithAsker(asker))
	}

	return agent.NewRunner(agent.RunnerConfig{
		Generator:       gen,
		Ledger:          ledger.New(a.store),
		Loop:            agent.NewLoop(svc.Client(), exec, a.cfg.Execution.MaxIterations, loopOpts...),
		TaskContext:     agent.NewTaskContext(a.cfg.Execution.HistorySize),
		Logger:          a.log,
		Metrics:         collector,
		Mode:            a.cfg.Execution.Mode,
		MetricsTextfile: a.cfg.MetricsTextfile,
		HandleSignals:   handleSignals,
	}), nil
}

func flagString(cmd *cobra.Command, name string) string {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f.Value.String()
	}
	return ""
}

// changedString returns the flag's value only when it was set.
func changedString(cmd *cobra.Command, name string) *string {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		v := f.Value.String()
		return &v
	}
	return nil
}

func changedInt(cmd *cobra.Command, name string) *int {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		v, err := cmd.Flags().GetInt(name)
		if err == nil {
			return &v
		}
	}
	return nil
}
