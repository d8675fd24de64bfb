// Package notify delivers job events to stream subscribers, locally and
// across API replicas.
package notify

import (
	"encoding/json"
	"log/slog"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/service/jobs"
)

// Broadcaster is the slice of the stream hub used for delivery.
type Broadcaster interface {
	Broadcast(jobID string, payload []byte)
}

// HubPublisher encodes events and hands them to the local stream hub.
type HubPublisher struct {
	hub Broadcaster
	log *slog.Logger
}

// NewHubPublisher wraps hub as a job event publisher.
func NewHubPublisher(hub Broadcaster, logger *slog.Logger) *HubPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &HubPublisher{hub: hub, log: logger}
}

// Publish implements jobs.Publisher.
func (p *HubPublisher) Publish(event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error("encode job event", "job_id", event.JobID, "error", err)
		return
	}
	p.hub.Broadcast(event.JobID, payload)
}

// Multi fans an event out to several publishers in order.
type Multi []jobs.Publisher

// Publish implements jobs.Publisher.
func (m Multi) Publish(event domain.Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(event)
		}
	}
}
