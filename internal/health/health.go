// Package health runs the diagnostic checks behind `signetctl doctor`.
//
// Each component is checked concurrently under its own timeout; a panicking
// or hung check is reported as unhealthy instead of taking the run down.
package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status is the outcome of one check.
type Status string

const (
	StatusHealthy   Status = "ok"
	StatusDegraded  Status = "warn"
	StatusUnhealthy Status = "fail"
	StatusSkipped   Status = "skip"
)

// Result is what a check reports.
type Result struct {
	Name     string
	Status   Status
	Message  string
	Duration time.Duration
}

// Check performs one diagnostic.
type Check func(ctx context.Context) Result

// Component is a named check.
type Component struct {
	Name string
	// Critical failures make the overall status unhealthy; others degrade it.
	Critical bool
	Check    Check
	Timeout  time.Duration
}

// Checker holds the registered components in registration order.
type Checker struct {
	mu         sync.Mutex
	components []*Component
}

// NewChecker returns an empty checker.
func NewChecker() *Checker {
	return &Checker{}
}

// Register adds a component. A zero timeout means five seconds.
func (c *Checker) Register(comp *Component) {
	if comp.Timeout == 0 {
		comp.Timeout = 5 * time.Second
	}
	c.mu.Lock()
	c.components = append(c.components, comp)
	c.mu.Unlock()
}

// RegisterFunc registers check under name.
func (c *Checker) RegisterFunc(name string, critical bool, check Check) {
	c.Register(&Component{Name: name, Critical: critical, Check: check})
}

// Run checks every component and returns the results in registration
// order.
func (c *Checker) Run(ctx context.Context) []Result {
	c.mu.Lock()
	comps := append([]*Component(nil), c.components...)
	c.mu.Unlock()

	results := make([]Result, len(comps))
	var wg sync.WaitGroup
	for i, comp := range comps {
		i, comp := i, comp
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runOne(ctx, comp)
		}()
	}
	wg.Wait()
	return results
}

func runOne(ctx context.Context, comp *Component) Result {
	ctx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := time.Now()
	ch := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- Result{Status: StatusUnhealthy, Message: fmt.Sprintf("check panicked: %v", r)}
			}
		}()
		ch <- comp.Check(ctx)
	}()

	var res Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = Result{Status: StatusUnhealthy, Message: "check timed out"}
	}
	res.Name = comp.Name
	res.Duration = time.Since(start)
	if res.Status == "" {
		res.Status = StatusHealthy
	}
	return res
}

// Overall folds results into one status. Only critical components can make
// it unhealthy.
func (c *Checker) Overall(results []Result) Status {
	c.mu.Lock()
	critical := make(map[string]bool, len(c.components))
	for _, comp := range c.components {
		critical[comp.Name] = comp.Critical
	}
	c.mu.Unlock()

	overall := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			if critical[r.Name] {
				return StatusUnhealthy
			}
			overall = StatusDegraded
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// FromError turns err into a result: nil is healthy.
func FromError(err error, ok string) Result {
	if err != nil {
		return Result{Status: StatusUnhealthy, Message: err.Error()}
	}
	return Result{Status: StatusHealthy, Message: ok}
}

// FileExists checks that path is a regular file. A missing file is only a
// warning; missing describes what that means.
func FileExists(path, missing string) Check {
	return func(ctx context.Context) Result {
		info, err := os.Stat(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			return Result{Status: StatusDegraded, Message: missing}
		case err != nil:
			return Result{Status: StatusUnhealthy, Message: err.Error()}
		case info.IsDir():
			return Result{Status: StatusUnhealthy, Message: path + " is a directory"}
		}
		return Result{Status: StatusHealthy, Message: path}
	}
}

// WritableDir checks that a file can be created in dir.
func WritableDir(dir string) Check {
	return func(ctx context.Context) Result {
		f, err := os.CreateTemp(dir, ".signet-doctor-*")
		if err != nil {
			return Result{Status: StatusUnhealthy, Message: err.Error()}
		}
		name := f.Name()
		f.Close()
		os.Remove(name)
		return Result{Status: StatusHealthy, Message: filepath.Clean(dir)}
	}
}
