// Package poller waits for the upstream export upload to finish, then starts the
// downstream import.
package poller

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/GeorgeGarkavenko/guess/poller/pkg/metrics"
	"github.com/GeorgeGarkavenko/guess/poller/pkg/script"
)

// Status is the state reported by the status file.
type Status int

const (
	StatusMissing  Status = -1
	StatusNotReady Status = 0
	StatusComplete Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusMissing:
		return "missing"
	case StatusNotReady:
		return "not_ready"
	case StatusComplete:
		return "complete"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

type Poller struct {
	log     *slog.Logger
	cfg     Config
	started atomic.Bool
}

func New(cfg Config) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Poller{log: cfg.Logger, cfg: cfg}, nil
}

// Started reports whether Run has begun polling.
func (p *Poller) Started() bool {
	return p.started.Load()
}

// Poll compares the first line of the status file, without trailing whitespace and
// ignoring case, with the completion message.
func (p *Poller) Poll() Status {
	f, err := os.Open(p.cfg.StatusFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.log.Info("poller: status file does not exist", "path", p.cfg.StatusFile)
		} else {
			p.log.Warn("poller: failed to open status file", "path", p.cfg.StatusFile, "error", err)
		}
		return StatusMissing
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		p.log.Warn("poller: failed to read status file", "path", p.cfg.StatusFile, "error", err)
		return StatusNotReady
	}
	message := strings.ToLower(strings.TrimRightFunc(line, unicode.IsSpace))
	if message == strings.ToLower(p.cfg.MsgComplete) {
		return StatusComplete
	}
	return StatusNotReady
}

// Run polls until the status file reports completion, sleeping between polls, then
// runs the import script once and returns its result.
func (p *Poller) Run(ctx context.Context) (script.Result, error) {
	p.started.Store(true)
	p.log.Info("poller: monitoring status file", "path", p.cfg.StatusFile, "sleep", p.cfg.SleepTime.String())

	for {
		status := p.Poll()
		metrics.PollTotal.WithLabelValues(status.String()).Inc()
		if status == StatusComplete {
			break
		}
		p.log.Info("poller: upload not complete, sleeping", "status", status.String(), "sleep", p.cfg.SleepTime.String())
		select {
		case <-ctx.Done():
			return script.Result{}, ctx.Err()
		case <-p.cfg.Clock.After(p.cfg.SleepTime):
		}
	}

	p.log.Info("poller: upload complete, starting import")
	return p.cfg.Runner.Run(ctx)
}
