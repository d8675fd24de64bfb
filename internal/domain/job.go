package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// Status is the lifecycle state of a deployment job.
type Status string

// Status values. Completed, failed and cancelled are terminal.
const (
	StatusPending    Status = "pending"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusUploading, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusUploading:
		return 1
	case StatusProcessing:
		return 2
	default:
		return 3
	}
}

// CanTransition checks a status change against the job state machine:
// pending -> uploading -> processing -> completed, and any non-terminal
// state -> failed | cancelled.
func CanTransition(from, to Status) bool {
	if from.Terminal() || !to.Valid() || from == to {
		return false
	}
	switch to {
	case StatusFailed, StatusCancelled:
		return true
	case StatusCompleted:
		return from == StatusProcessing
	}
	return to.rank() == from.rank()+1
}

// Channel names a publishing destination.
type Channel string

// Supported channels.
const (
	ChannelStoreRelease     Channel = "store-release"
	ChannelReviewTrack      Channel = "review-track"
	ChannelBetaDistribution Channel = "beta-distribution"
	ChannelFileDistribution Channel = "file-distribution"
	ChannelObjectStorage    Channel = "object-storage"
	ChannelArtifactRelease  Channel = "artifact-release"
)

// Channels lists every supported channel.
func Channels() []Channel {
	return []Channel{
		ChannelStoreRelease,
		ChannelReviewTrack,
		ChannelBetaDistribution,
		ChannelFileDistribution,
		ChannelObjectStorage,
		ChannelArtifactRelease,
	}
}

// Valid reports whether c is one of the supported channels.
func (c Channel) Valid() bool {
	for _, known := range Channels() {
		if c == known {
			return true
		}
	}
	return false
}

// Platform is informational and derived from the artifact when not supplied.
type Platform string

// Platforms.
const (
	PlatformAndroid   Platform = "android"
	PlatformIOS       Platform = "ios"
	PlatformUniversal Platform = "universal"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return p == PlatformAndroid || p == PlatformIOS || p == PlatformUniversal
}

// PlatformForFile infers the platform from an artifact file name.
func PlatformForFile(name string) Platform {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".apk", ".aab":
		return PlatformAndroid
	case ".ipa":
		return PlatformIOS
	default:
		return PlatformUniversal
	}
}

// Artifact references a staged build output owned by exactly one job.
type Artifact struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// Ext returns the lower-case extension of the original file name.
func (a Artifact) Ext() string {
	name := a.Filename
	if name == "" {
		name = a.Path
	}
	return strings.ToLower(filepath.Ext(name))
}

// Parameters is the per-channel configuration bag.
type Parameters map[string]string

// Get returns a trimmed parameter value.
func (p Parameters) Get(key string) string {
	return strings.TrimSpace(p[key])
}

// List splits a comma separated parameter into trimmed, non-empty items.
func (p Parameters) List(key string) []string {
	var out []string
	for _, item := range strings.Split(p[key], ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Bool parses a boolean parameter, treating anything but "true"/"1"/"yes" as false.
func (p Parameters) Bool(key string) bool {
	switch strings.ToLower(p.Get(key)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// Job is a single deployment request and its mutable state.
type Job struct {
	ID            string     `json:"id"`
	Platform      Platform   `json:"platform"`
	Channel       Channel    `json:"channel"`
	Status        Status     `json:"status"`
	Artifact      Artifact   `json:"artifact"`
	Parameters    Parameters `json:"parameters"`
	Progress      int        `json:"progress"`
	Logs          []string   `json:"logs"`
	ResultLocator string     `json:"resultLocator,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// Clone returns a deep copy so callers never share slices or maps with a store.
func (j Job) Clone() Job {
	out := j
	if j.Logs != nil {
		out.Logs = append([]string(nil), j.Logs...)
	}
	if j.Parameters != nil {
		out.Parameters = make(Parameters, len(j.Parameters))
		for k, v := range j.Parameters {
			out.Parameters[k] = v
		}
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// LastLog returns the most recent log line, or "".
func (j Job) LastLog() string {
	if len(j.Logs) == 0 {
		return ""
	}
	return j.Logs[len(j.Logs)-1]
}

// AppendLog adds a timestamped line.
func (j *Job) AppendLog(at time.Time, message string) {
	j.Logs = append(j.Logs, FormatLogLine(at, message))
}

// FormatLogLine renders a job log line.
func FormatLogLine(at time.Time, message string) string {
	return at.UTC().Format(time.RFC3339) + " " + strings.TrimSpace(message)
}

// Event is published whenever a job changes.
type Event struct {
	JobID      string    `json:"jobId"`
	Channel    Channel   `json:"channel"`
	Status     Status    `json:"status"`
	Progress   int       `json:"progress"`
	Log        string    `json:"log,omitempty"`
	Job        Job       `json:"job"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewEvent builds an event from a job snapshot.
func NewEvent(job Job, at time.Time) Event {
	return Event{
		JobID:      job.ID,
		Channel:    job.Channel,
		Status:     job.Status,
		Progress:   job.Progress,
		Log:        job.LastLog(),
		Job:        job,
		OccurredAt: at.UTC(),
	}
}
