package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ChannelTuning overrides polling bounds and endpoints for one channel.
type ChannelTuning struct {
	PollMaxAttempts int           `yaml:"poll_max_attempts"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	PollBackoff     float64       `yaml:"poll_backoff"`
	PollMaxInterval time.Duration `yaml:"poll_max_interval"`
	BaseURL         string        `yaml:"base_url"`
}

// ChannelsFile is the on-disk layout of CHANNELS_FILE.
//
//	channels:
//	  review-track:
//	    poll_max_attempts: 90
//	    poll_interval: 20s
type ChannelsFile struct {
	Channels map[string]ChannelTuning `yaml:"channels"`
}

// LoadChannels reads per-channel tuning. An empty path yields an empty set.
func LoadChannels(path string) (ChannelsFile, error) {
	out := ChannelsFile{Channels: map[string]ChannelTuning{}}
	if strings.TrimSpace(path) == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("read channels file: %w", err)
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("parse channels file: %w", err)
	}
	if out.Channels == nil {
		out.Channels = map[string]ChannelTuning{}
	}
	for name, tuning := range out.Channels {
		if tuning.PollMaxAttempts < 0 {
			return out, fmt.Errorf("channel %s: poll_max_attempts must not be negative", name)
		}
		if tuning.PollBackoff != 0 && tuning.PollBackoff < 1 {
			return out, fmt.Errorf("channel %s: poll_backoff must be >= 1", name)
		}
	}
	return out, nil
}

// For returns the tuning for a channel, or the zero value.
func (f ChannelsFile) For(channel string) ChannelTuning {
	return f.Channels[channel]
}
