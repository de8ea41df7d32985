// Package ledger persists the votes a wallet address has had confirmed, so
// that rendered entities can show the viewer's vote without asking the
// backend.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/daochan/daochan/internal/forum"
	"github.com/daochan/daochan/internal/kv"
)

const Namespace = "votes"

type Ledger struct {
	store kv.Store
}

func New(store kv.Store) *Ledger {
	return &Ledger{store: store}
}

func key(address string, target forum.Target) string {
	return address + ":" + string(target.Kind) + ":" + target.ID
}

// Lookup returns the recorded vote, or the empty VoteType when none is
// recorded.
func (l *Ledger) Lookup(ctx context.Context, address string, target forum.Target) (forum.VoteType, error) {
	rec, ok, err := l.Get(ctx, address, target)
	if err != nil || !ok {
		return "", err
	}
	return rec.VoteType, nil
}

// Get returns the full record for (address, target).
func (l *Ledger) Get(ctx context.Context, address string, target forum.Target) (forum.VoteRecord, bool, error) {
	raw, ok, err := l.store.Get(ctx, Namespace, key(address, target))
	if err != nil || !ok {
		return forum.VoteRecord{}, false, err
	}

	var rec forum.VoteRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return forum.VoteRecord{}, false, fmt.Errorf("decode vote record: %w", err)
	}
	if !rec.VoteType.Valid() {
		return forum.VoteRecord{}, false, fmt.Errorf("invalid vote record %q", raw)
	}
	return rec, true, nil
}

// Record overwrites the vote of address on target.
func (l *Ledger) Record(ctx context.Context, address string, target forum.Target, voteType forum.VoteType) error {
	if address == "" {
		return fmt.Errorf("record vote: empty address")
	}
	if !voteType.Valid() {
		return fmt.Errorf("record vote: invalid vote type %q", voteType)
	}

	raw, err := json.Marshal(forum.VoteRecord{
		Address:    address,
		EntityID:   target.ID,
		EntityKind: target.Kind,
		VoteType:   voteType,
	})
	if err != nil {
		return err
	}
	return l.store.Set(ctx, Namespace, key(address, target), string(raw))
}
