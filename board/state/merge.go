package state

import (
	"github.com/CrowderSoup/boardsync/board/order"
	"github.com/CrowderSoup/boardsync/models"
)

// MarkPending protects ids from being overwritten by push merges. Calls
// nest: each MarkPending needs a matching ClearPending.
func (s *Store) MarkPending(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			s.pending[id]++
		}
	}
}

func (s *Store) ClearPending(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if s.pending[id] <= 1 {
			delete(s.pending, id)
			continue
		}
		s.pending[id]--
	}
}

func (s *Store) IsPending(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending[id] > 0
}

// MergeCardMove applies a collaborator's card move unless the card is
// pending locally. index is the card's slot in the target list.
func (s *Store) MergeCardMove(cardID, listID string, index int) bool {
	s.mu.Lock()
	if s.pending[cardID] > 0 {
		s.mu.Unlock()
		s.log.Debug().Str("card", cardID).Msg("skipping push for pending card")
		return false
	}
	c, ok := s.cards[cardID]
	target, tok := s.lists[listID]
	if !ok || !tok {
		s.mu.Unlock()
		return false
	}
	source := s.lists[c.ListID]

	if source.ID == target.ID {
		from := order.IndexOf(source.CardIDs, cardID)
		seq, moved := order.ReorderWithinList(source.CardIDs, from, index)
		if !moved {
			s.mu.Unlock()
			return false
		}
		source.CardIDs = seq
	} else {
		src, dst, err := order.MoveAcrossLists(cardID, source.CardIDs, target.CardIDs, index)
		if err != nil {
			s.mu.Unlock()
			return false
		}
		source.CardIDs = src
		target.CardIDs = dst
		c.ListID = target.ID
	}
	renumber(s, source.ID)
	renumber(s, target.ID)

	s.version++
	v := s.version
	s.mu.Unlock()

	s.Notify(Change{Kind: ChangeMerged, Version: v, CardID: cardID})
	return true
}

// MergeListOrder applies a collaborator's list order when none of the lists
// is pending locally and the order covers exactly the known lists
func (s *Store) MergeListOrder(listOrder []string) bool {
	s.mu.Lock()
	for _, id := range listOrder {
		if s.pending[id] > 0 {
			s.mu.Unlock()
			return false
		}
	}
	if !order.IsPermutation(s.board.ListIDs, listOrder) {
		s.mu.Unlock()
		return false
	}
	s.board.ListIDs = append([]string{}, listOrder...)
	for i, id := range listOrder {
		s.lists[id].Position = i * models.PositionStep
	}
	s.version++
	v := s.version
	s.mu.Unlock()

	s.Notify(Change{Kind: ChangeMerged, Version: v})
	return true
}

// Subscribe registers fn for state-changed notifications. fn runs
// synchronously on the goroutine that changed the state, after the store
// lock is released. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Notify delivers c to every subscriber
func (s *Store) Notify(c Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// renumber rewrites card positions of a list from its sequence; callers hold s.mu
func renumber(s *Store, listID string) {
	l := s.lists[listID]
	for i, id := range l.CardIDs {
		s.cards[id].Position = i * models.PositionStep
	}
}

func samePermutationKeys[V any](ids []string, m map[string]V) bool {
	if len(ids) != len(m) {
		return false
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := m[id]; !ok || seen[id] {
			return false
		}
		seen[id] = true
	}
	return true
}
