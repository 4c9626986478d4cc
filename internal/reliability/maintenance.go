package reliability

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Ledger is the slice of the execution journal maintenance needs.
type Ledger interface {
	IntegrityCheck(ctx context.Context) error
	Checkpoint(ctx context.Context) error
}

// Maintenance keeps the on-disk state healthy: journal integrity and WAL
// checkpointing plus a disk space check on the data directory. Implements the
// scheduler Job interface so it can run as a daily job.
type Maintenance struct {
	ledger  Ledger
	dataDir string
	log     zerolog.Logger
}

// NewMaintenance creates a maintenance job. ledger may be nil when the
// journal is not open (status-only invocations).
func NewMaintenance(ledger Ledger, dataDir string, log zerolog.Logger) *Maintenance {
	return &Maintenance{
		ledger:  ledger,
		dataDir: dataDir,
		log:     log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name for the scheduler.
func (m *Maintenance) Name() string {
	return "maintenance"
}

// Run executes one maintenance pass. A failed integrity check or critically
// low disk is returned as an error; a failed checkpoint is only logged.
func (m *Maintenance) Run(ctx context.Context) error {
	start := time.Now()

	if m.ledger != nil {
		if err := m.ledger.IntegrityCheck(ctx); err != nil {
			m.log.Error().Err(err).Msg("Journal integrity check failed")
			return err
		}
		if err := m.ledger.Checkpoint(ctx); err != nil {
			m.log.Warn().Err(err).Msg("WAL checkpoint failed")
		}
	}

	if err := m.checkDiskSpace(); err != nil {
		return err
	}

	m.log.Info().Dur("duration_ms", time.Since(start)).Msg("Maintenance completed")
	return nil
}

// checkDiskSpace verifies the data directory's filesystem has headroom.
func (m *Maintenance) checkDiskSpace() error {
	stat := syscall.Statfs_t{}
	if err := syscall.Statfs(m.dataDir, &stat); err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableGB := float64(stat.Bavail*uint64(stat.Bsize)) / 1e9
	m.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	switch {
	case availableGB < 0.5:
		return fmt.Errorf("only %.2f GB free on data filesystem", availableGB)
	case availableGB < 5.0:
		m.log.Warn().Float64("available_gb", availableGB).Msg("Disk space running low")
	}
	return nil
}
