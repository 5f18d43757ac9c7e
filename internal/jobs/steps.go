package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"therapybridge/internal/logging"
	"therapybridge/internal/orchestrator"
	"therapybridge/internal/seed"
	"therapybridge/internal/services"
)

// Pipeline step names, in execution order.
const (
	StepSeed  = "seed"
	StepWave1 = "wave1"
	StepWave2 = "wave2"
)

// DefaultSteps is the full demo pipeline.
var DefaultSteps = []string{StepSeed, StepWave1, StepWave2}

// Waves runs the two analysis waves.
type Waves interface {
	RunWave1(ctx context.Context, patientID string) (orchestrator.WaveSummary, error)
	RunWave2(ctx context.Context, patientID string) (orchestrator.WaveSummary, error)
}

// Steps executes a single pipeline step in the current process.
type Steps struct {
	Seeder seed.Inserter
	Waves  Waves
	Now    func() time.Time
	Logger *slog.Logger
}

// Run dispatches one step. Wave steps only fail when the session list cannot
// be read; individual analyzer failures are recorded in the wave summary.
func (s Steps) Run(ctx context.Context, step, patientID string) error {
	logger := s.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	switch step {
	case StepSeed:
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		ids, inserted, err := seed.Seed(ctx, s.Seeder, patientID, now())
		if err != nil {
			return err
		}
		logger.Info("demo sessions seeded",
			logging.String(logging.FieldPatientID, patientID),
			logging.Int("sessions", len(ids)),
			logging.Int("inserted", inserted),
			logging.String(logging.FieldEventType, "sessions_seeded"),
		)
		return nil
	case StepWave1:
		if s.Waves == nil {
			return fmt.Errorf("step %s: no orchestrator configured", step)
		}
		_, err := s.Waves.RunWave1(ctx, patientID)
		return err
	case StepWave2:
		if s.Waves == nil {
			return fmt.Errorf("step %s: no orchestrator configured", step)
		}
		_, err := s.Waves.RunWave2(ctx, patientID)
		return err
	default:
		return services.Wrap(services.ErrValidation, "jobs", "run step", fmt.Sprintf("unknown step %q", step), nil)
	}
}
