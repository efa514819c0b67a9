// Package pipeline runs the service's long-lived loops side by side and
// stops them together.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Loop is a component that runs on a fixed interval until ctx is done.
type Loop interface {
	RunLoop(ctx context.Context, interval time.Duration) error
}

// Task is one named goroutine managed by the Orchestrator.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Every adapts a Loop into a Task.
func Every(name string, loop Loop, interval time.Duration) Task {
	return Task{
		Name: name,
		Run: func(ctx context.Context) error {
			return loop.RunLoop(ctx, interval)
		},
	}
}

// Orchestrator manages the sync loop, the listener loops and the HTTP
// server for the selected mode.
type Orchestrator struct {
	tasks  []Task
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator over tasks.
func NewOrchestrator(logger *slog.Logger, tasks ...Task) *Orchestrator {
	return &Orchestrator{
		tasks:  tasks,
		logger: logger.With(slog.String("component", "orchestrator")),
	}
}

// Add appends a task. It must be called before Run.
func (o *Orchestrator) Add(t Task) {
	o.tasks = append(o.tasks, t)
}

// Tasks returns the registered task names.
func (o *Orchestrator) Tasks() []string {
	names := make([]string, len(o.tasks))
	for i, t := range o.tasks {
		names[i] = t.Name
	}
	return names
}

// Run starts every task as a goroutine in an errgroup. Each task respects
// ctx cancellation. If any task returns a non-context error, the errgroup
// cancels the shared context and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	if len(o.tasks) == 0 {
		return fmt.Errorf("pipeline: no tasks to run")
	}
	o.logger.Info("orchestrator starting", slog.Any("tasks", o.Tasks()))

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range o.tasks {
		g.Go(func() error {
			o.logger.Info("starting task", slog.String("task", t.Name))
			err := t.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			if err == nil {
				o.logger.Info("task finished", slog.String("task", t.Name))
				return nil
			}
			return fmt.Errorf("%s: %w", t.Name, err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("orchestrator stopped cleanly")
	return nil
}
