package cases

import (
	"context"

	"go.uber.org/zap"

	apperrors "github.com/Aidin1998/amlstream/pkg/errors"
)

// Service opens cases and changes their status, keeping the ongoing-case
// cache in step so the stream processor sees the change on the next
// transaction
type Service struct {
	repo   *Repository
	lookup *CachedLookup
	logger *zap.Logger
}

// NewService creates a new Service
func NewService(repo *Repository, lookup *CachedLookup, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, lookup: lookup, logger: logger}
}

// ValidStatus reports whether status is a known case status
func ValidStatus(status string) bool {
	switch status {
	case StatusOpen, StatusInvestigating, StatusClosed:
		return true
	}
	return false
}

// Open records a new case for an owner
func (s *Service) Open(ctx context.Context, c *Case) error {
	if c.OwnerID == "" {
		return apperrors.Validation.Explain("owner_id is required")
	}
	if c.Status != "" && !ValidStatus(c.Status) {
		return apperrors.Validation.Explain("unknown case status %q", c.Status)
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return err
	}
	s.invalidate(ctx, c.OwnerID)
	return nil
}

// UpdateStatus changes a case's status. ErrCaseNotFound is returned for an
// unknown id.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (*Case, error) {
	if !ValidStatus(status) {
		return nil, apperrors.Validation.Explain("unknown case status %q", status)
	}
	c, err := s.repo.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, c.OwnerID)
	s.logger.Info("Case status updated",
		zap.String("case_id", id),
		zap.String("owner_id", c.OwnerID),
		zap.String("status", status))
	return c, nil
}

// invalidate drops the owner's cached list; a failure leaves it to expire
func (s *Service) invalidate(ctx context.Context, ownerID string) {
	if err := s.lookup.Invalidate(ctx, ownerID); err != nil {
		s.logger.Warn("Failed to invalidate ongoing case cache",
			zap.String("owner_id", ownerID),
			zap.Error(err))
	}
}
