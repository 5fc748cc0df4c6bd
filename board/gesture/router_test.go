package gesture

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrowderSoup/boardsync/board/order"
)

type fakeBoard struct {
	lists []string
	cards map[string][]string
}

func (b *fakeBoard) ListIDs() []string { return b.lists }

func (b *fakeBoard) CardIDs(listID string) []string { return b.cards[listID] }

func (b *fakeBoard) ListOf(cardID string) (string, bool) {
	for listID, ids := range b.cards {
		if order.IndexOf(ids, cardID) >= 0 {
			return listID, true
		}
	}
	return "", false
}

// recordingSink applies hovers to the fake board the way the engine applies
// them to the store
type recordingSink struct {
	board    *fakeBoard
	began    []string
	finished []string
	hovers   []CardMove
	cards    []CardMove
	lists    []ListMove
}

func (s *recordingSink) DragBegan(id string, _ Kind) { s.began = append(s.began, id) }
func (s *recordingSink) DragFinished(id string)      { s.finished = append(s.finished, id) }
func (s *recordingSink) CardDropped(m CardMove)      { s.cards = append(s.cards, m) }
func (s *recordingSink) ListDropped(m ListMove)      { s.lists = append(s.lists, m) }

func (s *recordingSink) CardHovered(m CardMove) {
	s.hovers = append(s.hovers, m)
	src, dst, err := order.MoveAcrossLists(m.CardID, s.board.cards[m.FromListID], s.board.cards[m.ToListID], m.Index)
	if err == nil {
		s.board.cards[m.FromListID] = src
		s.board.cards[m.ToListID] = dst
	}
}

func setup() (*Router, *recordingSink, *fakeBoard) {
	board := &fakeBoard{
		lists: []string{"L1", "L2", "L3"},
		cards: map[string][]string{
			"L1": {"c1", "c2", "c3"},
			"L2": {"c4"},
			"L3": {},
		},
	}
	sink := &recordingSink{board: board}
	return NewRouter(board, sink, zerolog.Nop()), sink, board
}

func TestDragStarted_ClassifiesListsBeforeCards(t *testing.T) {
	r, sink, _ := setup()

	require.NoError(t, r.DragStarted("L2"))
	assert.Equal(t, KindList, r.Kind())
	require.NoError(t, r.DragEnded(""))

	require.NoError(t, r.DragStarted("c2"))
	assert.Equal(t, KindCard, r.Kind())
	assert.Equal(t, []string{"L2", "c2"}, sink.began)
}

func TestDragStarted_UnknownEntityStaysIdle(t *testing.T) {
	r, sink, _ := setup()
	require.NoError(t, r.DragStarted("ghost"))
	assert.Equal(t, PhaseIdle, r.Phase())
	assert.Empty(t, sink.began)
}

func TestHoverOverOtherList_MovesCardToEnd(t *testing.T) {
	r, sink, board := setup()
	require.NoError(t, r.DragStarted("c1"))
	require.NoError(t, r.DragHovered("L2"))

	require.Len(t, sink.hovers, 1)
	assert.Equal(t, CardMove{CardID: "c1", FromListID: "L1", ToListID: "L2", Index: 1, CrossList: true}, sink.hovers[0])
	assert.Equal(t, []string{"c4", "c1"}, board.cards["L2"])

	// hovering the list it is now in does nothing
	require.NoError(t, r.DragHovered("L2"))
	assert.Len(t, sink.hovers, 1)
}

func TestHoverOverCard_NoLiveMove(t *testing.T) {
	r, sink, _ := setup()
	require.NoError(t, r.DragStarted("c1"))
	require.NoError(t, r.DragHovered("c4"))
	assert.Empty(t, sink.hovers)
}

func TestListDrag_NeverResolvesToCardMove(t *testing.T) {
	r, sink, _ := setup()
	require.NoError(t, r.DragStarted("L1"))
	require.NoError(t, r.DragHovered("L3"))
	assert.Empty(t, sink.hovers)

	require.NoError(t, r.DragEnded("c4"))
	assert.Empty(t, sink.cards)
	require.Len(t, sink.lists, 1)
	assert.Equal(t, ListMove{ListID: "L1", FromIndex: 0, ToIndex: 1}, sink.lists[0])
}

func TestListDrag_ThirdToFirst(t *testing.T) {
	r, sink, _ := setup()
	require.NoError(t, r.DragStarted("L3"))
	require.NoError(t, r.DragEnded("L1"))
	assert.Equal(t, []ListMove{{ListID: "L3", FromIndex: 2, ToIndex: 0}}, sink.lists)
	assert.Equal(t, []string{"L3"}, sink.finished)
	assert.Equal(t, PhaseIdle, r.Phase())
}

func TestCardDrop_HoverThenDropBeforeCard(t *testing.T) {
	r, sink, _ := setup()
	require.NoError(t, r.DragStarted("c1"))
	require.NoError(t, r.DragHovered("L2"))
	require.NoError(t, r.DragEnded("c4"))

	require.Len(t, sink.cards, 1)
	assert.Equal(t, CardMove{CardID: "c1", FromListID: "L1", ToListID: "L2", Index: 0, CrossList: true}, sink.cards[0])
}

func TestCardDrop_SameListOnCard(t *testing.T) {
	r, sink, _ := setup()
	require.NoError(t, r.DragStarted("c1"))
	require.NoError(t, r.DragEnded("c3"))
	assert.Equal(t, []CardMove{{CardID: "c1", FromListID: "L1", ToListID: "L1", Index: 2}}, sink.cards)
}

func TestCardDrop_OnOwnListGoesToEnd(t *testing.T) {
	r, sink, _ := setup()
	require.NoError(t, r.DragStarted("c1"))
	require.NoError(t, r.DragEnded("L1"))
	assert.Equal(t, []CardMove{{CardID: "c1", FromListID: "L1", ToListID: "L1", Index: 2}}, sink.cards)
}

func TestCardDrop_EmptyListTarget(t *testing.T) {
	r, sink, _ := setup()
	require.NoError(t, r.DragStarted("c2"))
	require.NoError(t, r.DragEnded("L3"))
	assert.Equal(t, []CardMove{{CardID: "c2", FromListID: "L1", ToListID: "L3", Index: 0, CrossList: true}}, sink.cards)
}

func TestCardDrop_CancelWithoutHover(t *testing.T) {
	r, sink, _ := setup()
	require.NoError(t, r.DragStarted("c2"))
	require.NoError(t, r.DragEnded(""))
	assert.Empty(t, sink.cards)

	require.NoError(t, r.DragStarted("c2"))
	require.NoError(t, r.DragEnded("nowhere"))
	assert.Empty(t, sink.cards)
	assert.Equal(t, []string{"c2", "c2"}, sink.finished)
}

func TestCardDrop_CancelAfterHoverKeepsMove(t *testing.T) {
	r, sink, _ := setup()
	require.NoError(t, r.DragStarted("c2"))
	require.NoError(t, r.DragHovered("L3"))
	require.NoError(t, r.DragEnded(""))

	require.Len(t, sink.cards, 1)
	assert.Equal(t, CardMove{CardID: "c2", FromListID: "L1", ToListID: "L3", Index: 0, CrossList: true}, sink.cards[0])
}

func TestGrammarViolations_ResetToIdle(t *testing.T) {
	r, sink, _ := setup()

	assert.ErrorIs(t, r.DragHovered("L1"), ErrInvalidTransition)
	assert.ErrorIs(t, r.DragEnded("L1"), ErrInvalidTransition)

	require.NoError(t, r.DragStarted("c1"))
	assert.ErrorIs(t, r.DragStarted("c2"), ErrInvalidTransition)
	assert.Equal(t, PhaseIdle, r.Phase())
	assert.Equal(t, []string{"c1"}, sink.finished)

	assert.Empty(t, sink.cards)
	assert.Empty(t, sink.lists)
}

func TestPhaseTransitions(t *testing.T) {
	next, err := PhaseIdle.TransitionTo(PhaseDragging)
	require.NoError(t, err)
	assert.Equal(t, PhaseDragging, next)

	_, err = PhaseIdle.TransitionTo(PhaseIdle)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = PhaseDragging.TransitionTo(PhaseDragging)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPointer_ClickBelowThreshold(t *testing.T) {
	r, sink, _ := setup()
	r.PointerDown("c1", 10, 10)
	require.NoError(t, r.PointerMove(14, 14, "c1"))
	require.NoError(t, r.PointerUp("c3"))

	assert.Empty(t, sink.began)
	assert.Empty(t, sink.cards)
}

func TestPointer_DragAfterThreshold(t *testing.T) {
	r, sink, board := setup()
	r.PointerDown("c1", 0, 0)
	require.NoError(t, r.PointerMove(3, 4, "c1"))
	assert.Equal(t, PhaseIdle, r.Phase())

	require.NoError(t, r.PointerMove(8, 0, "L2"))
	assert.Equal(t, PhaseDragging, r.Phase())
	assert.Equal(t, []string{"c4", "c1"}, board.cards["L2"])

	require.NoError(t, r.PointerUp("c4"))
	require.Len(t, sink.cards, 1)
	assert.Equal(t, 0, sink.cards[0].Index)
}
