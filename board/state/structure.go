package state

import (
	"github.com/CrowderSoup/boardsync/models"
)

// MergeListCreated inserts a collaborator's new list at index of the board
// order. Known ids are ignored, so a repeated delivery is a no-op.
func (s *Store) MergeListCreated(list models.List, index int) bool {
	s.mu.Lock()
	if _, ok := s.lists[list.ID]; ok || list.ID == "" {
		s.mu.Unlock()
		return false
	}
	l := list.Clone()
	l.CardIDs = []string{}
	s.lists[l.ID] = &l
	s.board.ListIDs = insertAt(s.board.ListIDs, l.ID, index)
	for i, id := range s.board.ListIDs {
		s.lists[id].Position = i * models.PositionStep
	}
	s.version++
	v := s.version
	s.mu.Unlock()

	s.Notify(Change{Kind: ChangeMerged, Version: v})
	return true
}

// MergeListDeleted drops a list and its cards unless the list or one of
// its cards is pending locally
func (s *Store) MergeListDeleted(listID string) bool {
	s.mu.Lock()
	l, ok := s.lists[listID]
	if !ok || s.pending[listID] > 0 {
		s.mu.Unlock()
		return false
	}
	for _, id := range l.CardIDs {
		if s.pending[id] > 0 {
			s.mu.Unlock()
			s.log.Debug().Str("list", listID).Str("card", id).Msg("skipping list delete with pending card")
			return false
		}
	}
	for _, id := range l.CardIDs {
		delete(s.cards, id)
		if s.openCardID == id {
			s.openCardID = ""
		}
	}
	delete(s.lists, listID)
	s.board.ListIDs = without(s.board.ListIDs, listID)
	for i, id := range s.board.ListIDs {
		s.lists[id].Position = i * models.PositionStep
	}
	s.version++
	v := s.version
	s.mu.Unlock()

	s.Notify(Change{Kind: ChangeMerged, Version: v})
	return true
}

// MergeCardCreated inserts a collaborator's new card at index of its list
func (s *Store) MergeCardCreated(card models.Card, index int) bool {
	s.mu.Lock()
	l, lok := s.lists[card.ListID]
	if _, known := s.cards[card.ID]; known || !lok || card.ID == "" {
		s.mu.Unlock()
		return false
	}
	c := card.Clone()
	s.cards[c.ID] = &c
	l.CardIDs = insertAt(l.CardIDs, c.ID, index)
	renumber(s, l.ID)
	s.version++
	v := s.version
	s.mu.Unlock()

	s.Notify(Change{Kind: ChangeMerged, Version: v, CardID: card.ID})
	return true
}

// MergeCardDeleted removes a card unless it is pending locally
func (s *Store) MergeCardDeleted(cardID string) bool {
	s.mu.Lock()
	c, ok := s.cards[cardID]
	if !ok || s.pending[cardID] > 0 {
		s.mu.Unlock()
		return false
	}
	l := s.lists[c.ListID]
	l.CardIDs = without(l.CardIDs, cardID)
	renumber(s, l.ID)
	delete(s.cards, cardID)
	if s.openCardID == cardID {
		s.openCardID = ""
	}
	s.version++
	v := s.version
	s.mu.Unlock()

	s.Notify(Change{Kind: ChangeMerged, Version: v, CardID: cardID})
	return true
}

// insertAt returns a copy of seq with id inserted before index, clamped
// to the sequence bounds
func insertAt(seq []string, id string, index int) []string {
	if index < 0 || index > len(seq) {
		index = len(seq)
	}
	out := make([]string, 0, len(seq)+1)
	out = append(out, seq[:index]...)
	out = append(out, id)
	return append(out, seq[index:]...)
}

func without(seq []string, id string) []string {
	out := make([]string, 0, len(seq))
	for _, v := range seq {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
