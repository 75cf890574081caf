// Package health evaluates component checks for the /api/health endpoint.
package health

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"
)

// Status values, ordered worst to best: error, unhealthy, warning, healthy.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusWarning   Status = "warning"
	StatusUnhealthy Status = "unhealthy"
	StatusError     Status = "error"
)

func worse(a, b Status) Status {
	rank := map[Status]int{StatusError: 0, StatusUnhealthy: 1, StatusWarning: 2, StatusHealthy: 3}
	if rank[a] < rank[b] {
		return a
	}
	return b
}

// Check is the result of one component probe.
type Check struct {
	Status  Status `json:"status"`
	Details any    `json:"details,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// Response is the full /api/health payload.
type Response struct {
	Status    Status           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Uptime    float64          `json:"uptime"`
	Checks    map[string]Check `json:"checks"`
}

// Checker probes one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) Check
}

// Manager aggregates checkers into the health response.
type Manager struct {
	start    time.Time
	checkers []Checker
}

// NewManager builds an empty manager anchored at the process start time.
func NewManager() *Manager {
	return &Manager{start: time.Now()}
}

// RegisterChecker adds a component probe.
func (m *Manager) RegisterChecker(c Checker) {
	m.checkers = append(m.checkers, c)
}

// Evaluate runs all checks and folds their statuses into the overall one.
func (m *Manager) Evaluate(ctx context.Context) Response {
	resp := Response{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(m.start).Seconds(),
		Checks:    make(map[string]Check, len(m.checkers)),
	}
	for _, c := range m.checkers {
		result := c.Check(ctx)
		resp.Checks[c.Name()] = result
		resp.Status = worse(resp.Status, result.Status)
	}
	return resp
}

// MemoryChecker reports heap usage and warns above a threshold.
type MemoryChecker struct {
	WarnBytes uint64
}

func (c *MemoryChecker) Name() string { return "memory" }

func (c *MemoryChecker) Check(context.Context) Check {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	warnAt := c.WarnBytes
	if warnAt == 0 {
		warnAt = 1 << 30
	}
	check := Check{
		Status: StatusHealthy,
		Details: map[string]any{
			"heapAllocBytes": ms.HeapAlloc,
			"sysBytes":       ms.Sys,
			"numGC":          ms.NumGC,
			"goroutines":     runtime.NumGoroutine(),
		},
	}
	if ms.HeapAlloc > warnAt {
		check.Status = StatusWarning
		check.Warning = fmt.Sprintf("heap usage %d exceeds %d bytes", ms.HeapAlloc, warnAt)
	}
	return check
}

// ConnectionsChecker reports the live WebSocket session count.
type ConnectionsChecker struct {
	Active func() int
}

func (c *ConnectionsChecker) Name() string { return "connections" }

func (c *ConnectionsChecker) Check(context.Context) Check {
	return Check{
		Status:  StatusHealthy,
		Details: map[string]any{"active": c.Active()},
	}
}

// StorageChecker verifies the store directories exist and are directories.
type StorageChecker struct {
	Dirs map[string]string // label -> path
}

func (c *StorageChecker) Name() string { return "storage" }

func (c *StorageChecker) Check(context.Context) Check {
	details := make(map[string]any, len(c.Dirs))
	status := StatusHealthy
	for label, dir := range c.Dirs {
		info, err := os.Stat(dir)
		switch {
		case err != nil:
			status = worse(status, StatusUnhealthy)
			details[label] = fmt.Sprintf("stat failed: %v", err)
		case !info.IsDir():
			status = worse(status, StatusUnhealthy)
			details[label] = "not a directory"
		default:
			details[label] = "ok"
		}
	}
	return Check{Status: status, Details: details}
}
