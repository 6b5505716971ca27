package snapshot

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hyperjump/miwake/internal/catalog"
	"github.com/hyperjump/miwake/internal/keyword"
	"github.com/hyperjump/miwake/internal/vector"
)

// Snapshot is one immutable, consistent view of the catalog: the vector
// index, the item store, and the keyword index built together under a single
// version. Queries acquire a snapshot for the duration of one request, so a
// concurrent publish can never close stores out from under a reader.
type Snapshot struct {
	Version  string
	Dir      string
	Manifest *Manifest

	Vectors  vector.VectorIndex
	Items    catalog.Store
	Keywords keyword.KeywordIndex
	// Spell suggests corrections from this snapshot's term dictionary. Its
	// term cache fills on first use and stays valid for the snapshot's
	// lifetime, since the dictionary can never change underneath it.
	Spell *keyword.SpellChecker

	// refs starts at 1 for the manager's own hold. Acquire fails once the
	// count drains to zero, which only happens after the manager releases
	// a displaced snapshot.
	refs   atomic.Int64
	logger *zap.Logger
}

// Acquire takes a reference. It returns false when the snapshot has already
// drained; the caller should reload the current snapshot and retry.
func (s *Snapshot) Acquire() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops one reference. The last release closes all three stores.
func (s *Snapshot) Release() {
	if s.refs.Add(-1) > 0 {
		return
	}
	s.closeStores()
}

func (s *Snapshot) closeStores() {
	if s.Vectors != nil {
		if err := s.Vectors.Close(); err != nil {
			s.logger.Warn("failed to close vector index",
				zap.String("version", s.Version), zap.Error(err))
		}
	}
	if s.Items != nil {
		if err := s.Items.Close(); err != nil {
			s.logger.Warn("failed to close catalog store",
				zap.String("version", s.Version), zap.Error(err))
		}
	}
	if s.Keywords != nil {
		if err := s.Keywords.Close(); err != nil {
			s.logger.Warn("failed to close keyword index",
				zap.String("version", s.Version), zap.Error(err))
		}
	}
}
