// Package audit persists the security audit trail. Events are queued on a
// buffered channel and written by a small worker pool so that login and
// refresh latency never waits on the audit table.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/upb/sessionguard/models"
	"github.com/upb/sessionguard/repositories"
)

var (
	// ErrNotStarted is returned when an event is queued before Start or after Stop
	ErrNotStarted = errors.New("audit service not started")
	// ErrBufferFull is returned when the queue cannot take another event
	ErrBufferFull = errors.New("audit event buffer full")
)

const insertTimeout = 5 * time.Second

// Config holds configuration for the Service
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1024,
		WorkerCount: 2,
	}
}

// Service writes audit events asynchronously. A nil *Service drops
// everything, so callers never need to check whether auditing is on.
type Service struct {
	repo        repositories.AuditRepository
	logger      *zap.Logger
	events      chan *models.AuditEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	mu          sync.Mutex
	started     bool
	stopped     bool
	dropped     int
}

// NewService creates an audit service. Zero or negative sizes fall back to
// DefaultConfig.
func NewService(repo repositories.AuditRepository, logger *zap.Logger, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}

	return &Service{
		repo:        repo,
		logger:      logger,
		events:      make(chan *models.AuditEvent, cfg.BufferSize),
		workerCount: cfg.WorkerCount,
		bufferSize:  cfg.BufferSize,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}
	if s.stopped {
		return fmt.Errorf("audit service cannot be restarted")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting events and waits for the queue to drain
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.started = false
	s.stopped = true
	pending := len(s.events)
	close(s.events)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", pending))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Enqueue queues an event without blocking
func (s *Service) Enqueue(event *models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}

	select {
	case s.events <- event:
		return nil
	default:
		s.dropped++
		return ErrBufferFull
	}
}

// Record stamps the event with the request ID found in ctx and queues it.
// A full or stopped queue drops the event with a warning.
func (s *Service) Record(ctx context.Context, event *models.AuditEvent) {
	if s == nil || event == nil {
		return
	}
	if event.RequestID == "" {
		event.RequestID = middleware.GetReqID(ctx)
	}

	if err := s.Enqueue(event); err != nil {
		s.logger.Warn("dropping audit event",
			zap.String("action", string(event.Action)),
			zap.String("outcome", event.Outcome),
			zap.Error(err))
	}
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.events {
		if err := s.write(event); err != nil {
			s.logger.Error("failed to write audit event",
				zap.Int("worker_id", id),
				zap.String("action", string(event.Action)),
				zap.Error(err))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *Service) write(event *models.AuditEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	if err := s.repo.Insert(ctx, event); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Dropped       int
	Started       bool
}

// GetStats returns statistics about the audit service. A nil Service
// reports zero stats.
func (s *Service) GetStats() Stats {
	if s == nil {
		return Stats{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.events),
		WorkerCount:   s.workerCount,
		Dropped:       s.dropped,
		Started:       s.started,
	}
}
