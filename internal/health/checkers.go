// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// checkTimeout bounds probe latency so readiness handlers stay fast.
const checkTimeout = 2 * time.Second

// StoreChecker verifies the queue store answers a bounded query.
type StoreChecker struct {
	ping func(ctx context.Context) error
}

// NewStoreChecker creates a checker around a store ping function.
func NewStoreChecker(ping func(ctx context.Context) error) *StoreChecker {
	return &StoreChecker{ping: ping}
}

func (c *StoreChecker) Name() string { return "store" }

func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	if c.ping == nil {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  "store not configured",
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := c.ping(checkCtx); err != nil {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  err.Error(),
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: "store reachable",
	}
}

// SinkChecker verifies the RTMP sink URL is configured. The daemon refuses
// to start without one, so an empty value here means misconfiguration after
// a hot reload.
type SinkChecker struct {
	sinkURL func() string
}

// NewSinkChecker creates a checker around the effective sink URL.
func NewSinkChecker(sinkURL func() string) *SinkChecker {
	return &SinkChecker{sinkURL: sinkURL}
}

func (c *SinkChecker) Name() string { return "sink" }

func (c *SinkChecker) Check(_ context.Context) CheckResult {
	if c.sinkURL == nil || c.sinkURL() == "" {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  "rtmp sink url not configured",
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: "sink configured",
	}
}

// ClassifierChecker reports the moderation gate's operating mode. A gate
// without classifier and fallback script still serves (approving all
// content), which an operator should see as degraded rather than down.
type ClassifierChecker struct {
	ready func() error
}

// NewClassifierChecker creates a checker around the gate readiness probe.
func NewClassifierChecker(ready func() error) *ClassifierChecker {
	return &ClassifierChecker{ready: ready}
}

func (c *ClassifierChecker) Name() string { return "classifier" }

func (c *ClassifierChecker) Check(_ context.Context) CheckResult {
	if c.ready == nil {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "moderation gate not wired",
		}
	}
	if err := c.ready(); err != nil {
		return CheckResult{
			Status:  StatusDegraded,
			Message: err.Error(),
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: "classifier ready",
	}
}

// WritableDirChecker checks that a directory exists and accepts writes.
type WritableDirChecker struct {
	name string
	path string
}

// NewWritableDirChecker creates a checker for directory writability.
func NewWritableDirChecker(name, path string) *WritableDirChecker {
	return &WritableDirChecker{name: name, path: path}
}

func (c *WritableDirChecker) Name() string { return c.name }

func (c *WritableDirChecker) Check(_ context.Context) CheckResult {
	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusUnhealthy,
				Error:   "directory does not exist",
				Message: c.path,
			}
		}
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  err.Error(),
		}
	}
	if !info.IsDir() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "path is not a directory",
			Message: c.path,
		}
	}

	probe := filepath.Join(c.path, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0600); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "directory is not writable",
			Message: c.path,
		}
	}
	_ = os.Remove(probe)

	return CheckResult{
		Status:  StatusHealthy,
		Message: "directory writable",
	}
}

// informational downgrades a checker's failures to degraded so it never
// flips readiness to false on its own.
type informational struct {
	inner Checker
}

// Informational wraps a checker whose failure should be visible but must
// not take the service out of rotation.
func Informational(c Checker) Checker {
	return &informational{inner: c}
}

func (c *informational) Name() string { return c.inner.Name() }

func (c *informational) Check(ctx context.Context) CheckResult {
	result := c.inner.Check(ctx)
	if result.Status == StatusUnhealthy {
		result.Status = StatusDegraded
	}
	return result
}
