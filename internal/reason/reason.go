// Package reason implements Reason Annotation (C6): a thin orchestration
// layer over gap.Store's reason operations plus the HTTP-facing input
// shape (§4.6, §6).
package reason

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nasa-cumulus/gapdetect/internal/gap"
)

// Service wraps gap.Store's reason operations.
type Service struct {
	store gap.Store
}

// New builds a reason Service.
func New(store gap.Store) *Service {
	return &Service{store: store}
}

// Input is one entry of POST /reasons's {reasons: [...]} body.
type Input struct {
	ShortName string
	Version   string
	Window    gap.TimeWindow
	Text      string
}

// Add inserts one reason per input, grounded on knownGap.py's add_reasons.
// Overlap violations (R1) surface as gap.ErrOverlapViolation.
func (s *Service) Add(ctx context.Context, inputs []Input) error {
	reasons := make([]gap.Reason, 0, len(inputs))

	for _, in := range inputs {
		reasons = append(reasons, gap.Reason{
			ID:           uuid.New(),
			CollectionID: gap.CollectionID(in.ShortName, in.Version),
			Start:        in.Window.Start,
			End:          in.Window.End,
			Text:         in.Text,
		})
	}

	if err := s.store.AddReasons(ctx, reasons); err != nil {
		return fmt.Errorf("reason: add reasons: %w", err)
	}

	return nil
}

// List returns reasons overlapping window for one collection.
func (s *Service) List(ctx context.Context, shortName, version string, window gap.TimeWindow) ([]gap.Reason, error) {
	reasons, err := s.store.ListReasons(ctx, gap.CollectionID(shortName, version), window)
	if err != nil {
		return nil, fmt.Errorf("reason: list reasons: %w", err)
	}

	return reasons, nil
}
