package logs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
	"github.com/mosaiq-software/server-manager-sub000/internal/lock"
	"github.com/mosaiq-software/server-manager-sub000/internal/repository"
	"github.com/mosaiq-software/server-manager-sub000/internal/ws"
)

// Service appends to deployment logs and streams each append to subscribers.
type Service struct {
	repo   repository.InstanceRepository
	locks  *lock.KeyedMutex
	hub    *ws.Hub
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a log service. hub may be nil when streaming is not needed.
func New(repo repository.InstanceRepository, hub *ws.Hub, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{
		repo:   repo,
		locks:  lock.NewKeyedMutex(),
		hub:    hub,
		logger: logger.With("component", "logs"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Append concatenates text onto the instance log. Appends to one instance never interleave.
func (s Service) Append(ctx context.Context, instanceID, text string) error {
	unlock := s.locks.Lock(instanceID)
	defer unlock()
	if err := s.repo.AppendInstanceLog(ctx, instanceID, text); err != nil {
		return err
	}
	s.broadcast(instanceID, text)
	return nil
}

// Line appends one timestamped line.
func (s Service) Line(ctx context.Context, instanceID, message string) error {
	return s.Append(ctx, instanceID, domain.FormatLogLine(s.now(), message))
}

// Get returns the instance with its full log.
func (s Service) Get(ctx context.Context, instanceID string) (*domain.ProjectInstance, error) {
	return s.repo.GetInstanceByID(ctx, instanceID)
}

// Hub returns the websocket hub (useful for HTTP handlers).
func (s Service) Hub() *ws.Hub {
	return s.hub
}

func (s Service) broadcast(instanceID, text string) {
	if s.hub == nil {
		return
	}
	data, err := MarshalEntry(instanceID, text, s.now())
	if err != nil {
		s.logger.Warn("failed to marshal log payload", "instance_id", instanceID, "error", err)
		return
	}
	s.hub.Broadcast(instanceID, data)
}

// MarshalEntry formats a log append for streaming payloads.
func MarshalEntry(instanceID, text string, at time.Time) ([]byte, error) {
	payload := map[string]any{
		"instance_id": instanceID,
		"text":        text,
		"appended_at": at.UTC().Format(time.RFC3339Nano),
	}
	return json.Marshal(payload)
}
