package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/GeorgeGarkavenko/guess/poller/pkg/script"
	"github.com/jonboulle/clockwork"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMsgComplete = "complete"
	DefaultSleepTime   = 60 * time.Second
)

// FileConfig is the on-disk poller configuration.
type FileConfig struct {
	StatusFile string `yaml:"status_file"`
	Script     string `yaml:"script"`
	// SleepTime is in seconds.
	SleepTime   int    `yaml:"sleep_time"`
	MsgComplete string `yaml:"msg_complete"`
}

func LoadConfigFile(path string) (FileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to open poller config: %w", err)
	}
	defer f.Close()
	return LoadConfig(f)
}

func LoadConfig(r io.Reader) (FileConfig, error) {
	var fc FileConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return FileConfig{}, fmt.Errorf("failed to parse poller config: %w", err)
	}
	if fc.SleepTime < 0 {
		return FileConfig{}, fmt.Errorf("sleep_time must not be negative, got %d", fc.SleepTime)
	}
	return fc, nil
}

// ScriptRunner runs the import once the status file reports completion.
type ScriptRunner interface {
	Run(ctx context.Context) (script.Result, error)
}

type Config struct {
	Logger      *slog.Logger
	StatusFile  string
	MsgComplete string
	SleepTime   time.Duration
	Runner      ScriptRunner
	Clock       clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.StatusFile == "" {
		return errors.New("status file is required")
	}
	if cfg.Runner == nil {
		return errors.New("script runner is required")
	}
	if cfg.MsgComplete == "" {
		cfg.MsgComplete = DefaultMsgComplete
	}
	if cfg.SleepTime <= 0 {
		cfg.SleepTime = DefaultSleepTime
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}
