package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ExitRecord describes one exit slice, placed, failed or simulated.
type ExitRecord struct {
	Timestamp time.Time
	TickID    string
	Key       string
	Symbol    string
	Product   string
	Quantity  int
	Price     string
	OrderID   string
	Paper     bool
	Success   bool
	Error     string
}

// SignalRecord describes one entry signal emitted by the strategy runner.
type SignalRecord struct {
	Timestamp  time.Time
	Strategy   string
	Direction  string
	Underlying string
	Entry      float64
	StopLoss   float64
	Targets    []float64
	Strike     float64
	Quantity   int
	OrderID    string
}

// Journal appends one JSON object per line. Safe for concurrent use.
type Journal struct {
	mu     sync.Mutex
	log    zerolog.Logger
	closer io.Closer
}

// OpenJournal opens (or creates) the journal file under dir.
func OpenJournal(dir, file string) (*Journal, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	f, err := os.OpenFile(filepath.Join(dir, file), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := NewJournal(f)
	j.closer = f
	return j, nil
}

// NewJournal writes records to w.
func NewJournal(w io.Writer) *Journal {
	return &Journal{log: zerolog.New(w)}
}

// LogExit appends an exit record.
func (j *Journal) LogExit(record *ExitRecord) error {
	if j == nil || record == nil {
		return nil
	}
	ts := record.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.log.Log().
		Str("type", "exit").
		Time("ts", ts).
		Str("tick_id", record.TickID).
		Str("key", record.Key).
		Str("symbol", record.Symbol).
		Str("product", record.Product).
		Int("qty", record.Quantity).
		Str("price", record.Price).
		Str("order_id", record.OrderID).
		Bool("paper", record.Paper).
		Bool("success", record.Success).
		Str("error", record.Error).
		Send()
	return nil
}

// LogSignal appends a signal record.
func (j *Journal) LogSignal(record *SignalRecord) error {
	if j == nil || record == nil {
		return nil
	}
	ts := record.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.log.Log().
		Str("type", "signal").
		Time("ts", ts).
		Str("strategy", record.Strategy).
		Str("direction", record.Direction).
		Str("underlying", record.Underlying).
		Float64("entry", record.Entry).
		Float64("stop_loss", record.StopLoss).
		Floats64("targets", record.Targets).
		Float64("strike", record.Strike).
		Int("qty", record.Quantity).
		Str("order_id", record.OrderID).
		Send()
	return nil
}

func (j *Journal) Close() error {
	if j == nil || j.closer == nil {
		return nil
	}
	return j.closer.Close()
}
