package telemetry

import (
	"context"

	"github.com/pankha-project/pankha-agent/internal/errors"
	"github.com/pankha-project/pankha-agent/internal/protocol"
)

type service struct {
	repo Repository
}

// NewService creates a telemetry collector backed by a local sqlite archive.
func NewService(cfg Config) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	repo, err := NewRepository(cfg)
	if err != nil {
		return nil, err
	}

	return &service{
		repo: repo,
	}, nil
}

func (s *service) RecordSnapshot(ctx context.Context, snapshot *protocol.TelemetrySnapshot) error {
	errFactory := errors.New()

	if snapshot == nil {
		return errFactory.New(ErrInvalidSnapshot)
	}

	if err := s.repo.StoreSnapshot(ctx, snapshot); err != nil {
		return errFactory.Wrap(ErrRecordFailed, err)
	}

	return nil
}

func (s *service) RecordFailsafeEvent(ctx context.Context, entered bool, reason string) error {
	errFactory := errors.New()

	if err := s.repo.StoreFailsafeEvent(ctx, protocol.NowMillis(), entered, reason); err != nil {
		return errFactory.Wrap(ErrRecordFailed, err)
	}

	return nil
}

func (s *service) Close() error {
	return s.repo.Close()
}
