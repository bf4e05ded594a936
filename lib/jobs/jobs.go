// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobs provides a bounded, dedicated job system.
//
// A Manager owns its own goroutines and never shares them with other
// Managers. The streaming decompressor runs on one so that long,
// size-dependent decompressions cannot starve unrelated work that uses
// a different pool.
package jobs

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Manager runs submitted jobs on at most Threads goroutines. Submit
// never blocks; excess jobs wait in FIFO order.
type Manager struct {
	name    string
	threads int
	logger  *slog.Logger

	group errgroup.Group

	mu        sync.Mutex
	queue     []func()
	running   int
	closed    bool
	completed uint64
}

// Config configures a Manager.
type Config struct {
	// Name identifies the manager in logs.
	Name string

	// Threads is the maximum number of jobs executing at once. Must
	// be at least 1.
	Threads int

	// Logger receives lifecycle messages. Nil discards them.
	Logger *slog.Logger
}

// NewManager creates a Manager. Goroutines are started on demand as
// jobs arrive and exit when the queue drains.
func NewManager(config Config) (*Manager, error) {
	if config.Threads < 1 {
		return nil, fmt.Errorf("jobs: manager %q needs at least one thread, got %d", config.Name, config.Threads)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		name:    config.Name,
		threads: config.Threads,
		logger:  logger.With("job_manager", config.Name),
	}, nil
}

// Submit queues job for execution. Returns an error after Close.
func (m *Manager) Submit(job func()) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("jobs: manager %q is closed", m.name)
	}
	m.queue = append(m.queue, job)
	start := m.running < m.threads
	if start {
		m.running++
	}
	m.mu.Unlock()

	if start {
		m.group.Go(m.drain)
	}
	return nil
}

// drain runs queued jobs until the queue is empty. The running count
// is decremented under the same lock that observes the empty queue, so
// a concurrent Submit either sees a free thread or its job is picked
// up here.
func (m *Manager) drain() error {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.running--
			m.mu.Unlock()
			return nil
		}
		job := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		m.mu.Unlock()

		job()

		m.mu.Lock()
		m.completed++
		m.mu.Unlock()
	}
}

// Threads returns the configured concurrency bound.
func (m *Manager) Threads() int { return m.threads }

// Stats returns the number of queued, running, and completed jobs.
func (m *Manager) Stats() (queued, running int, completed uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue), m.running, m.completed
}

// Close rejects new jobs and waits for queued and running jobs to
// finish.
func (m *Manager) Close() {
	m.mu.Lock()
	alreadyClosed := m.closed
	m.closed = true
	m.mu.Unlock()
	if alreadyClosed {
		return
	}
	_ = m.group.Wait()
	m.logger.Debug("job manager closed")
}
