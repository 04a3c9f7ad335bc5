package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/harrison/webpilot/internal/instructions"
	"github.com/harrison/webpilot/internal/ledger"
	"github.com/harrison/webpilot/internal/logger"
	"github.com/harrison/webpilot/internal/metrics"
	"github.com/harrison/webpilot/internal/models"
)

// InstructionSource produces the instructions a run is seeded with.
// *instructions.Generator implements it.
type InstructionSource interface {
	Generate(ctx context.Context, command string, mode models.ExecutionMode) (*instructions.Generated, error)
}

// CommandResult is the structured outcome of one command.
type CommandResult struct {
	Success    bool                `json:"success"`
	Output     string              `json:"output,omitempty"`
	RunID      string              `json:"run_id"`
	TaskType   string              `json:"task_type,omitempty"`
	Source     instructions.Source `json:"source,omitempty"`
	ErrorKind  models.ErrorKind    `json:"error_kind,omitempty"`
	Error      string              `json:"error,omitempty"`
	Iterations int                 `json:"iterations"`
	ToolCalls  int                 `json:"tool_calls"`
	Duration   time.Duration       `json:"duration"`
}

// RunnerConfig wires a Runner. Generator, Ledger and Loop are required.
type RunnerConfig struct {
	Generator       InstructionSource
	Ledger          *ledger.Ledger
	Loop            *Loop
	TaskContext     *TaskContext
	Logger          logger.RunLogger
	Metrics         *metrics.Collector
	Mode            models.ExecutionMode
	MetricsTextfile string
	HandleSignals   bool // cancel the run on SIGINT/SIGTERM
}

// Runner executes commands end to end: instructions, ledger run, agent loop,
// seal. One command runs at a time.
type Runner struct {
	generator   InstructionSource
	ledger      *ledger.Ledger
	loop        *Loop
	taskCtx     *TaskContext
	logger      logger.RunLogger
	metrics     *metrics.Collector
	metricsPath string
	signals     bool

	mu   sync.Mutex // serializes Execute
	mode models.ExecutionMode
	mmu  sync.RWMutex
}

// NewRunner creates a runner from cfg.
func NewRunner(cfg RunnerConfig) *Runner {
	taskCtx := cfg.TaskContext
	if taskCtx == nil {
		taskCtx = NewTaskContext(DefaultHistorySize)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	mode := cfg.Mode
	if mode == "" {
		mode = models.ModeFast
	}
	return &Runner{
		generator:   cfg.Generator,
		ledger:      cfg.Ledger,
		loop:        cfg.Loop,
		taskCtx:     taskCtx,
		logger:      log,
		metrics:     cfg.Metrics,
		metricsPath: cfg.MetricsTextfile,
		signals:     cfg.HandleSignals,
		mode:        mode,
	}
}

// Mode returns the execution mode used for the next command.
func (r *Runner) Mode() models.ExecutionMode {
	r.mmu.RLock()
	defer r.mmu.RUnlock()
	return r.mode
}

// SetMode changes the execution mode for later commands.
func (r *Runner) SetMode(mode models.ExecutionMode) {
	r.mmu.Lock()
	r.mode = mode
	r.mmu.Unlock()
}

// TaskContext returns the runner's task context.
func (r *Runner) TaskContext() *TaskContext {
	return r.taskCtx
}

// Execute runs command to completion. The ledger run is always sealed, even
// when instruction generation fails or the loop panics. The returned error
// is the run's *models.RunError and is nil exactly when the result reports
// success.
func (r *Runner) Execute(ctx context.Context, command string) (*CommandResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.signals {
		stop := r.watchSignals(ctx, cancel)
		defer stop()
	}

	start := time.Now()
	mode := r.Mode()
	result := &CommandResult{}

	gen, genErr := r.generator.Generate(ctx, command, mode)
	if genErr != nil {
		gen = &instructions.Generated{TaskType: instructions.DefaultTaskID}
	}
	result.TaskType = gen.TaskType
	result.Source = gen.Source

	r.taskCtx.Start(gen.TaskType, gen.Parameters)
	run := r.ledger.Open(command, gen.Instructions, mode)
	result.RunID = run.ID()
	r.taskCtx.Set("command", command)
	r.taskCtx.Set("run_id", run.ID())
	r.logger.LogRunStart(run.Snapshot())

	var (
		loopRes *LoopResult
		runErr  error
	)
	if genErr != nil {
		runErr = models.NewRunError(models.ErrorKindLaunchFailure, "instruction generation failed", genErr)
	} else {
		if gen.SavedPath != "" {
			r.logger.LogDebug(fmt.Sprintf("Instructions saved to %s", gen.SavedPath))
		}
		loopRes, runErr = r.runLoop(ctx, gen.Instructions, run)
	}
	if loopRes != nil {
		result.Iterations = loopRes.Iterations
		result.ToolCalls = loopRes.ToolCalls
		result.Output = loopRes.FinalText
	}

	outcome := models.OutcomeSuccess
	if runErr != nil {
		outcome = models.OutcomeFailure
		result.ErrorKind = models.KindOf(runErr)
		result.Error = runErr.Error()
	}
	result.Success = runErr == nil

	if err := run.Seal(context.WithoutCancel(ctx), outcome, runErr); err != nil {
		r.logger.LogError(fmt.Sprintf("Failed to seal run %s: %v", run.ID(), err))
	}

	if runErr != nil {
		_ = r.taskCtx.Fail(result.Error)
	} else {
		_ = r.taskCtx.Complete(result.Output)
	}

	result.Duration = time.Since(start)
	r.logger.LogRunComplete(run.Snapshot())
	r.recordMetrics(result)

	return result, runErr
}

// runLoop runs the agent loop, turning a panic into a launch failure.
func (r *Runner) runLoop(ctx context.Context, text string, run *ledger.Run) (res *LoopResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.LogError(fmt.Sprintf("Agent loop panicked: %v\n%s", p, debug.Stack()))
			err = models.NewRunError(models.ErrorKindLaunchFailure, fmt.Sprintf("agent loop panicked: %v", p), nil)
		}
	}()
	return r.loop.Run(ctx, text, run)
}

func (r *Runner) recordMetrics(result *CommandResult) {
	if r.metrics == nil {
		return
	}
	outcome := models.OutcomeSuccess
	if !result.Success {
		outcome = models.OutcomeFailure
	}
	r.metrics.RunFinished(string(outcome), string(result.ErrorKind), result.Iterations, result.Duration)
	if err := r.metrics.WriteTextfile(r.metricsPath); err != nil {
		r.logger.LogWarn(fmt.Sprintf("Failed to write metrics: %v", err))
	}
}

func (r *Runner) watchSignals(ctx context.Context, cancel context.CancelFunc) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			r.logger.LogWarn("Received interrupt signal, stopping the current run")
			cancel()
		case <-ctx.Done():
		}
	}()
	return func() { signal.Stop(sigChan) }
}
