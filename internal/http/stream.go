package httpx

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/ws"
)

func (r *Router) snapshot(job domain.Job) []byte {
	payload, err := json.Marshal(domain.NewEvent(job, r.now()))
	if err != nil {
		r.logger.Error("encode job snapshot", "job_id", job.ID, "error", err)
		return nil
	}
	return payload
}

func (r *Router) handleEventsSSE(w http.ResponseWriter, req *http.Request) {
	if r.streams == nil {
		writeError(w, http.StatusServiceUnavailable, "event streaming disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	id := chi.URLParam(req, "id")
	if _, err := r.deploy.Get(req.Context(), id); err != nil {
		r.writeServiceError(w, req, err)
		return
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := newSSEStream(ws.NewSSEClient(w, flusher, r.logger))
	r.streams.Register(id, client)
	defer func() {
		r.streams.Unregister(id, client)
		client.Close()
	}()

	// Registered before the snapshot so no transition can fall between them.
	job, err := r.deploy.Get(req.Context(), id)
	if err != nil {
		return
	}
	if payload := r.snapshot(job); payload != nil {
		if err := client.Send(payload); err != nil {
			return
		}
	}

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-client.finished:
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

// sseStream ends the response once a terminal event has been written.
type sseStream struct {
	*ws.SSEClient
	finished chan struct{}
	once     sync.Once
}

func newSSEStream(client *ws.SSEClient) *sseStream {
	return &sseStream{SSEClient: client, finished: make(chan struct{})}
}

func (s *sseStream) Send(payload []byte) error {
	if err := s.SSEClient.Send(payload); err != nil {
		return err
	}
	var event struct {
		Status domain.Status `json:"status"`
	}
	if json.Unmarshal(payload, &event) == nil && event.Status.Terminal() {
		s.once.Do(func() { close(s.finished) })
	}
	return nil
}

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	if r.streams == nil {
		writeError(w, http.StatusServiceUnavailable, "event streaming disabled")
		return
	}
	id := strings.TrimSpace(req.URL.Query().Get("job_id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	if id != ws.Wildcard {
		if _, err := r.deploy.Get(req.Context(), id); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.streams.Register(id, client)
	defer r.streams.Unregister(id, client)

	if id != ws.Wildcard {
		if job, err := r.deploy.Get(req.Context(), id); err == nil {
			if payload := r.snapshot(job); payload != nil {
				_ = client.Send(payload)
			}
		}
	}
	client.Drain()
}
