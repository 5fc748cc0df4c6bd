// Package state holds the optimistic in-memory copy of the open board.
//
// Lists and cards live in maps keyed by id with explicit membership
// sequences (board list order, per-list card order), so the "every card has
// exactly one owner" invariant can be checked mechanically. All ordering
// mutations replace whole sequences under one lock, which makes a cross-list
// move a single state transition.
package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/CrowderSoup/boardsync/board/order"
	"github.com/CrowderSoup/boardsync/models"
)

var ErrUnknownEntity = errors.New("unknown entity")

// ChangeKind describes why subscribers are being notified
type ChangeKind int

const (
	ChangeApplied ChangeKind = iota + 1
	ChangeReplaced
	ChangeMerged
	ChangeTasks
	ChangeAlert
)

// Change is delivered to subscribers after every state transition
type Change struct {
	Kind     ChangeKind
	Version  uint64
	Mutation *Mutation
	CardID   string
	Message  string
	Err      error
}

// Store is safe for concurrent use
type Store struct {
	mu sync.RWMutex

	board   models.Board
	lists   map[string]*models.List
	cards   map[string]*models.Card
	version uint64

	openCardID string
	pending    map[string]int

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int

	log zerolog.Logger
}

func New(log zerolog.Logger) *Store {
	return &Store{
		lists:   make(map[string]*models.List),
		cards:   make(map[string]*models.Card),
		pending: make(map[string]int),
		subs:    make(map[int]func(Change)),
		log:     log.With().Str("component", "state").Logger(),
	}
}

// Replace discards every local change and loads snap as the new truth.
// Missing list or card sequences are derived from positions.
func (s *Store) Replace(snap models.BoardSnapshot) {
	s.mu.Lock()
	s.board = snap.Board.Clone()
	s.lists = make(map[string]*models.List, len(snap.Lists))
	s.cards = make(map[string]*models.Card, len(snap.Cards))

	for _, l := range snap.Lists {
		l := l.Clone()
		l.CardIDs = nil
		s.lists[l.ID] = &l
	}

	byList := make(map[string][]models.Card)
	for _, c := range snap.Cards {
		c := c.Clone()
		s.cards[c.ID] = &c
		byList[c.ListID] = append(byList[c.ListID], c)
	}
	for _, l := range snap.Lists {
		if len(l.CardIDs) > 0 {
			s.lists[l.ID].CardIDs = append([]string{}, l.CardIDs...)
			continue
		}
		cards := byList[l.ID]
		sort.SliceStable(cards, func(i, j int) bool {
			if cards[i].Position != cards[j].Position {
				return cards[i].Position < cards[j].Position
			}
			return cards[i].ID < cards[j].ID
		})
		ids := make([]string, 0, len(cards))
		for _, c := range cards {
			ids = append(ids, c.ID)
		}
		s.lists[l.ID].CardIDs = ids
	}

	if len(s.board.ListIDs) == 0 {
		ordered := append([]models.List{}, snap.Lists...)
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].Position != ordered[j].Position {
				return ordered[i].Position < ordered[j].Position
			}
			return ordered[i].ID < ordered[j].ID
		})
		for _, l := range ordered {
			s.board.ListIDs = append(s.board.ListIDs, l.ID)
		}
	}

	s.version++
	v := s.version
	s.mu.Unlock()

	s.log.Debug().Str("board", snap.Board.ID).Int("lists", len(snap.Lists)).Int("cards", len(snap.Cards)).Msg("snapshot loaded")
	s.Notify(Change{Kind: ChangeReplaced, Version: v})
}

// ApplyOptimistic installs the sequences carried by m in one transition.
// The set of cards across the touched lists must be identical before and
// after, so a card can never be duplicated or dropped.
func (s *Store) ApplyOptimistic(m Mutation) error {
	s.mu.Lock()
	switch m.Kind {
	case CardReorder, CardMove:
		if err := s.checkCardSequences(m.Sequences); err != nil {
			s.mu.Unlock()
			return err
		}
		for listID, seq := range m.Sequences {
			l := s.lists[listID]
			l.CardIDs = append([]string{}, seq...)
			for i, id := range seq {
				c := s.cards[id]
				c.ListID = listID
				c.Position = i * models.PositionStep
			}
		}
	case ListReorder:
		if !order.IsPermutation(s.board.ListIDs, m.ListOrder) {
			s.mu.Unlock()
			return fmt.Errorf("list order is not a permutation of the board's lists")
		}
		s.board.ListIDs = append([]string{}, m.ListOrder...)
		for i, id := range m.ListOrder {
			s.lists[id].Position = i * models.PositionStep
		}
	default:
		s.mu.Unlock()
		return fmt.Errorf("unsupported mutation %v", m.Kind)
	}
	s.version++
	v := s.version
	s.mu.Unlock()

	s.log.Debug().Stringer("kind", m.Kind).Str("card", m.CardID).Str("list", m.ListID).Uint64("version", v).Msg("optimistic mutation applied")
	s.Notify(Change{Kind: ChangeApplied, Version: v, Mutation: &m})
	return nil
}

func (s *Store) checkCardSequences(seqs map[string][]string) error {
	before := map[string]bool{}
	after := map[string]bool{}
	for listID, seq := range seqs {
		l, ok := s.lists[listID]
		if !ok {
			return fmt.Errorf("list %s: %w", listID, ErrUnknownEntity)
		}
		for _, id := range l.CardIDs {
			before[id] = true
		}
		for _, id := range seq {
			if after[id] {
				return fmt.Errorf("card %s appears twice", id)
			}
			after[id] = true
		}
	}
	if len(before) != len(after) {
		return fmt.Errorf("mutation changes card membership")
	}
	for id := range before {
		if !after[id] {
			return fmt.Errorf("mutation drops card %s", id)
		}
	}
	return nil
}

// CheckInvariants verifies that every card is owned by exactly one list of
// the board and that the board order names every list once.
func (s *Store) CheckInvariants() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !samePermutationKeys(s.board.ListIDs, s.lists) {
		return fmt.Errorf("board list order does not match lists")
	}
	owner := make(map[string]string, len(s.cards))
	for _, listID := range s.board.ListIDs {
		for _, cardID := range s.lists[listID].CardIDs {
			if prev, dup := owner[cardID]; dup {
				return fmt.Errorf("card %s owned by %s and %s", cardID, prev, listID)
			}
			owner[cardID] = listID
		}
	}
	for id, c := range s.cards {
		listID, ok := owner[id]
		if !ok {
			return fmt.Errorf("card %s is not in any list", id)
		}
		if c.ListID != listID {
			return fmt.Errorf("card %s records list %s but is held by %s", id, c.ListID, listID)
		}
	}
	return nil
}

// Snapshot returns a deep copy of the board with lists in board order and
// cards in list order
func (s *Store) Snapshot() models.BoardSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := models.BoardSnapshot{
		Board: s.board.Clone(),
		Lists: make([]models.List, 0, len(s.lists)),
		Cards: make([]models.Card, 0, len(s.cards)),
	}
	for _, listID := range s.board.ListIDs {
		l := s.lists[listID]
		snap.Lists = append(snap.Lists, l.Clone())
		for _, cardID := range l.CardIDs {
			snap.Cards = append(snap.Cards, s.cards[cardID].Clone())
		}
	}
	return snap
}

// Version increases with every state transition
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) BoardID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.board.ID
}

// ListIDs returns the board's list order
func (s *Store) ListIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.board.ListIDs...)
}

// CardIDs returns the card order of a list
func (s *Store) CardIDs(listID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lists[listID]
	if !ok {
		return nil
	}
	return append([]string{}, l.CardIDs...)
}

func (s *Store) HasList(listID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.lists[listID]
	return ok
}

// ListOf returns the list currently holding cardID
func (s *Store) ListOf(cardID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[cardID]
	if !ok {
		return "", false
	}
	return c.ListID, true
}

func (s *Store) Card(cardID string) (models.Card, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[cardID]
	if !ok {
		return models.Card{}, false
	}
	return c.Clone(), true
}

// Tasks returns a copy of a card's tasks
func (s *Store) Tasks(cardID string) []models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[cardID]
	if !ok {
		return nil
	}
	return c.Clone().Tasks
}

// Task finds a task on any card of the board
func (s *Store) Task(taskID string) (models.Task, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cards {
		for _, t := range c.Tasks {
			if t.ID == taskID {
				return t.Clone(), c.ID, true
			}
		}
	}
	return models.Task{}, "", false
}

// SetTasks replaces a card's task collection
func (s *Store) SetTasks(cardID string, tasks []models.Task) error {
	s.mu.Lock()
	c, ok := s.cards[cardID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("card %s: %w", cardID, ErrUnknownEntity)
	}
	c.Tasks = make([]models.Task, len(tasks))
	for i, t := range tasks {
		c.Tasks[i] = t.Clone()
	}
	s.version++
	v := s.version
	s.mu.Unlock()

	s.Notify(Change{Kind: ChangeTasks, Version: v, CardID: cardID})
	return nil
}

// UpsertTask inserts task or replaces the task with the same id, so
// repeated deliveries never duplicate an entry
func (s *Store) UpsertTask(cardID string, task models.Task) bool {
	s.mu.Lock()
	c, ok := s.cards[cardID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	replaced := false
	for i := range c.Tasks {
		if c.Tasks[i].ID == task.ID {
			c.Tasks[i] = task.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		c.Tasks = append(c.Tasks, task.Clone())
		sort.SliceStable(c.Tasks, func(i, j int) bool { return c.Tasks[i].Position < c.Tasks[j].Position })
	}
	s.version++
	v := s.version
	s.mu.Unlock()

	s.Notify(Change{Kind: ChangeTasks, Version: v, CardID: cardID})
	return true
}

// RemoveTask deletes a task from a card
func (s *Store) RemoveTask(cardID, taskID string) bool {
	s.mu.Lock()
	c, ok := s.cards[cardID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	idx := -1
	for i := range c.Tasks {
		if c.Tasks[i].ID == taskID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	c.Tasks = append(c.Tasks[:idx], c.Tasks[idx+1:]...)
	s.version++
	v := s.version
	s.mu.Unlock()

	s.Notify(Change{Kind: ChangeTasks, Version: v, CardID: cardID})
	return true
}

// OpenCard records which card's room is joined. Task push events for other
// cards are ignored.
func (s *Store) OpenCard(cardID string) {
	s.mu.Lock()
	s.openCardID = cardID
	s.mu.Unlock()
}

func (s *Store) OpenCardID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openCardID
}
