package report

import (
	"fmt"
	"time"

	"main/internal/clock"
	"main/pkg/conn"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"
)

// StatsRecord is one persisted snapshot of a processor's statistics.
type StatsRecord struct {
	ID        uint   `gorm:"primaryKey"`
	RunID     string `gorm:"index"`
	Processor string `gorm:"index"`
	Mode      string

	TotalTicks      int
	SuccessfulTicks int
	FailedTicks     int

	AvgExecutionTime    float64
	MaxExecutionTime    float64
	StdDevExecutionTime float64
	P95ExecutionTime    float64
	ErrorRate           float64

	RetryPeak int
	LastError string

	CreatedAt time.Time
}

// StateSource is the read-only clock surface the recorder consumes. Both
// clock variants satisfy it.
type StateSource interface {
	Mode() clock.Mode
	Processors() []clock.Processor
	GetProcessorState(clock.Processor) (clock.ProcessorState, bool)
}

// Recorder persists processor statistics snapshots to Postgres.
type Recorder struct {
	db    *gorm.DB
	runID string
}

// NewRecorder migrates the stats table and creates a recorder bound to
// the given run identity.
func NewRecorder(client *conn.Client, runID string) (*Recorder, error) {
	db := client.DB()
	if db == nil {
		return nil, errors.New("recorder requires an open postgres client")
	}
	if err := db.AutoMigrate(&StatsRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate stats records")
	}
	return &Recorder{db: db, runID: runID}, nil
}

// Flush writes one snapshot row per registered processor.
func (r *Recorder) Flush(src StateSource) error {
	processors := src.Processors()
	records := make([]StatsRecord, 0, len(processors))
	for _, p := range processors {
		state, ok := src.GetProcessorState(p)
		if !ok {
			continue
		}
		records = append(records, newRecord(r.runID, src.Mode(), p, state))
	}
	if len(records) == 0 {
		return nil
	}
	if err := r.db.Create(&records).Error; err != nil {
		return errors.Wrap(err, "write stats records")
	}
	logs.Infof("flushed %d stats records for run %s", len(records), r.runID)
	return nil
}

func newRecord(runID string, mode clock.Mode, p clock.Processor, state clock.ProcessorState) StatsRecord {
	stats := state.Snapshot()
	return StatsRecord{
		RunID:               runID,
		Processor:           processorLabel(p),
		Mode:                mode.String(),
		TotalTicks:          stats.TotalTicks,
		SuccessfulTicks:     stats.SuccessfulTicks,
		FailedTicks:         stats.FailedTicks,
		AvgExecutionTime:    stats.AvgExecutionTime,
		MaxExecutionTime:    stats.MaxExecutionTime,
		StdDevExecutionTime: state.StdDevExecutionTime(),
		P95ExecutionTime:    state.ExecutionPercentile(95),
		ErrorRate:           state.ErrorRate(),
		RetryPeak:           state.MaxConsecutiveRetries,
		LastError:           state.LastError,
	}
}

func processorLabel(p clock.Processor) string {
	if s, ok := p.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", p)
}
