package eventbus

import (
	"context"
	"fmt"
	"sync"
)

// SubscriptionManager maintains the filter policy on the ingest/deletion
// subscriptions so that future events for a newly registered collection
// flow to C4 (§4.2 step 5). Mutated only by registration and coarsely
// serialized by the caller (§5's shared-resource policy).
type SubscriptionManager interface {
	// IncludeCollection adds collectionID to both the ingest and deletion
	// subscription filter policies. Idempotent.
	IncludeCollection(ctx context.Context, collectionID string) error
}

// InMemorySubscriptionManager is a process-local filter policy store. It
// models the shape of the real subscription filter-policy API (an
// append-only set of collection ids per subscription ARN) without requiring
// a live cloud pub/sub dependency the teacher's stack does not carry.
type InMemorySubscriptionManager struct {
	mu                sync.Mutex
	ingestARN         string
	deletionARN       string
	collectionsByARN  map[string]map[string]struct{}
}

// NewInMemorySubscriptionManager builds a manager for the two subscription
// ARNs named by SUBSCRIPTION_ARN_INGEST / SUBSCRIPTION_ARN_DELETION (§6).
func NewInMemorySubscriptionManager(ingestARN, deletionARN string) *InMemorySubscriptionManager {
	return &InMemorySubscriptionManager{
		ingestARN:   ingestARN,
		deletionARN: deletionARN,
		collectionsByARN: map[string]map[string]struct{}{
			ingestARN:   {},
			deletionARN: {},
		},
	}
}

var _ SubscriptionManager = (*InMemorySubscriptionManager)(nil)

func (m *InMemorySubscriptionManager) IncludeCollection(_ context.Context, collectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, arn := range []string{m.ingestARN, m.deletionARN} {
		set, ok := m.collectionsByARN[arn]
		if !ok {
			return fmt.Errorf("eventbus: unknown subscription ARN %q", arn)
		}

		set[collectionID] = struct{}{}
	}

	return nil
}
