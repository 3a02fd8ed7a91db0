package middleware

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shrek82/oql/core"
	"github.com/shrek82/oql/logger"
)

// SlowLogMiddleware logs queries that take longer than the specified threshold.
type SlowLogMiddleware struct {
	Threshold time.Duration
	LogPath   string
	logger    logger.Logger
	file      *os.File
}

// NewSlowLog creates a new SlowLogMiddleware.
// threshold: queries taking longer than this will be logged.
// logPath: path to a dedicated log file. If empty, the DB logger is used.
func NewSlowLog(threshold time.Duration, logPath string) *SlowLogMiddleware {
	return &SlowLogMiddleware{
		Threshold: threshold,
		LogPath:   logPath,
	}
}

// SetOutput sends slow query lines to w.
func (m *SlowLogMiddleware) SetOutput(w io.Writer) {
	m.logger = logger.New(logger.WithOutput(w), logger.WithColor(false))
}

func (m *SlowLogMiddleware) Name() string {
	return "SlowLog"
}

func (m *SlowLogMiddleware) Init(db *core.DB) error {
	// already set by SetOutput
	if m.logger != nil {
		return nil
	}

	if m.LogPath != "" {
		f, err := os.OpenFile(m.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open slow log file: %w", err)
		}
		m.file = f
		m.logger = logger.New(logger.WithOutput(f), logger.WithColor(false))
	} else {
		m.logger = db.Logger()
	}
	return nil
}

func (m *SlowLogMiddleware) Shutdown() error {
	if m.file != nil {
		return m.file.Close()
	}
	return nil
}

func (m *SlowLogMiddleware) Process(ctx context.Context, q *core.Query, next core.QueryFunc) (*core.Result, error) {
	start := time.Now()
	res, err := next(ctx, q)
	duration := time.Since(start)

	if duration > m.Threshold {
		l := m.logger
		if len(q.Fields) > 0 {
			l = l.WithFields(q.Fields)
		}
		var rows int64
		if res != nil {
			rows = res.RowsAffected + int64(res.Rows)
		}
		l.Warn("slow sql: duration=%v | sql=%s | args=%v | rows=%d | err=%v", duration, q.SQL, q.Args, rows, err)
	}

	return res, err
}
