package surface

import (
	"context"
	"strconv"
	"sync/atomic"

	"starwatch/pkg/logx"
)

// Log is a headless surface: alerts become structured log lines.
// Consent is implicit because there is nobody to prompt.
type Log struct {
	log logx.Logger
	seq atomic.Uint64
}

func NewLog(log logx.Logger) *Log { return &Log{log: log} }

func (l *Log) Name() string                    { return "log" }
func (l *Log) Start(ctx context.Context) error { return nil }
func (l *Log) Stop(ctx context.Context) error  { return nil }
func (l *Log) Probe(ctx context.Context) bool  { return true }
func (l *Log) RequestConsent(ctx context.Context) (Decision, error) {
	return DecisionAllow, nil
}

func (l *Log) Present(ctx context.Context, a Alert) (Handle, error) {
	id := strconv.FormatUint(l.seq.Add(1), 10)
	l.log.Info(a.Title, logx.String("alert", id), logx.String("body", a.Body), logx.String("url", a.URL))
	return logHandle(id), nil
}

type logHandle string

func (h logHandle) ID() string                        { return string(h) }
func (h logHandle) Dismiss(ctx context.Context) error { return nil }
