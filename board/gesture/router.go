// Package gesture turns drag events into move intents.
//
// The router is a small state machine: Idle → Dragging(kind) → Idle. An
// event that does not fit the Started → Hovered* → Ended grammar resets it
// to Idle and is reported as ErrInvalidTransition; no intent is emitted for
// it. Every method is synchronous.
package gesture

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/CrowderSoup/boardsync/board/order"
)

// ActivationDistance is the pointer travel needed before a press becomes a drag
const ActivationDistance = 8.0

var ErrInvalidTransition = errors.New("invalid gesture transition")

// Kind is the class of the dragged entity, fixed for the whole gesture
type Kind int

const (
	KindNone Kind = iota
	KindList
	KindCard
)

func (k Kind) String() string {
	switch k {
	case KindList:
		return "list"
	case KindCard:
		return "card"
	default:
		return "none"
	}
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDragging
)

func (p Phase) String() string {
	if p == PhaseDragging {
		return "dragging"
	}
	return "idle"
}

// TransitionTo validates a phase change
func (p Phase) TransitionTo(next Phase) (Phase, error) {
	switch p {
	case PhaseIdle:
		if next == PhaseDragging {
			return next, nil
		}
	case PhaseDragging:
		if next == PhaseIdle {
			return next, nil
		}
	}
	return PhaseIdle, fmt.Errorf("%w: from %v to %v", ErrInvalidTransition, p, next)
}

// CardMove asks for a card to end up at Index of ToListID. CrossList is set
// when the card started the gesture in another list, even if a hover has
// already placed it in ToListID.
type CardMove struct {
	CardID     string
	FromListID string
	ToListID   string
	Index      int
	CrossList  bool
}

// ListMove asks for a list to move from FromIndex to ToIndex
type ListMove struct {
	ListID    string
	FromIndex int
	ToIndex   int
}

// Board is the read side the router needs to classify and resolve ids
type Board interface {
	ListIDs() []string
	CardIDs(listID string) []string
	ListOf(cardID string) (string, bool)
}

// IntentSink receives the router's intents
type IntentSink interface {
	// DragBegan is called once a drag of entityID is recognised
	DragBegan(entityID string, kind Kind)
	// CardHovered applies live feedback without persisting it
	CardHovered(m CardMove)
	// CardDropped finalises a card move
	CardDropped(m CardMove)
	// ListDropped finalises a list move
	ListDropped(m ListMove)
	// DragFinished is called when the gesture leaves the dragging phase
	DragFinished(entityID string)
}

type Router struct {
	board Board
	sink  IntentSink
	log   zerolog.Logger

	phase      Phase
	kind       Kind
	entityID   string
	originList string

	// pointer front end
	pressed bool
	pressID string
	startX  float64
	startY  float64
}

func NewRouter(board Board, sink IntentSink, log zerolog.Logger) *Router {
	return &Router{
		board: board,
		sink:  sink,
		log:   log.With().Str("component", "gesture").Logger(),
	}
}

func (r *Router) Phase() Phase { return r.phase }
func (r *Router) Kind() Kind   { return r.kind }

// DragStarted classifies entityID, first among lists and then among each
// list's cards. An unknown id leaves the router idle.
func (r *Router) DragStarted(entityID string) error {
	if r.phase != PhaseIdle {
		r.reset()
		return fmt.Errorf("%w: drag started while dragging", ErrInvalidTransition)
	}

	kind, listID := r.classify(entityID)
	if kind == KindNone {
		r.log.Debug().Str("entity", entityID).Msg("drag on unknown entity ignored")
		return nil
	}

	phase, err := r.phase.TransitionTo(PhaseDragging)
	if err != nil {
		r.reset()
		return err
	}
	r.phase = phase
	r.kind = kind
	r.entityID = entityID
	r.originList = listID

	r.sink.DragBegan(entityID, kind)
	return nil
}

// DragHovered gives live feedback: a card hovering over another list jumps
// to the end of that list immediately
func (r *Router) DragHovered(overID string) error {
	if r.phase != PhaseDragging {
		r.reset()
		return fmt.Errorf("%w: hover while idle", ErrInvalidTransition)
	}
	if r.kind != KindCard || overID == "" || overID == r.entityID {
		return nil
	}
	if !r.isList(overID) {
		return nil
	}
	current, ok := r.board.ListOf(r.entityID)
	if !ok || current == overID {
		return nil
	}

	r.sink.CardHovered(CardMove{
		CardID:     r.entityID,
		FromListID: current,
		ToListID:   overID,
		Index:      len(r.board.CardIDs(overID)),
		CrossList:  true,
	})
	return nil
}

// DragEnded finishes the gesture. An empty or unresolvable overID cancels it.
func (r *Router) DragEnded(overID string) error {
	if r.phase != PhaseDragging {
		r.reset()
		return fmt.Errorf("%w: drag ended while idle", ErrInvalidTransition)
	}
	defer r.reset()

	switch r.kind {
	case KindList:
		r.endList(overID)
	case KindCard:
		r.endCard(overID)
	}
	return nil
}

func (r *Router) endList(overID string) {
	target := r.resolveList(overID)
	if target == "" {
		r.log.Debug().Str("list", r.entityID).Msg("list drag cancelled")
		return
	}
	lists := r.board.ListIDs()
	r.sink.ListDropped(ListMove{
		ListID:    r.entityID,
		FromIndex: order.IndexOf(lists, r.entityID),
		ToIndex:   order.IndexOf(lists, target),
	})
}

func (r *Router) endCard(overID string) {
	current, ok := r.board.ListOf(r.entityID)
	if !ok {
		return
	}

	target, index := r.resolveCardTarget(overID, current)
	if target == "" {
		// Cancelled. A hover may already have moved the card; that move stands.
		if current != r.originList {
			r.sink.CardDropped(CardMove{
				CardID:     r.entityID,
				FromListID: r.originList,
				ToListID:   current,
				Index:      order.IndexOf(r.board.CardIDs(current), r.entityID),
				CrossList:  true,
			})
		}
		r.log.Debug().Str("card", r.entityID).Msg("card drag cancelled")
		return
	}

	r.sink.CardDropped(CardMove{
		CardID:     r.entityID,
		FromListID: r.originList,
		ToListID:   target,
		Index:      index,
		CrossList:  target != r.originList,
	})
}

// resolveCardTarget returns the list and slot a card dropped on overID
// should land in
func (r *Router) resolveCardTarget(overID, current string) (string, int) {
	if overID == "" {
		return "", 0
	}
	if r.isList(overID) {
		n := len(r.board.CardIDs(overID))
		if overID == current {
			n--
		}
		return overID, n
	}
	if listID, ok := r.board.ListOf(overID); ok {
		return listID, order.IndexOf(r.board.CardIDs(listID), overID)
	}
	return "", 0
}

// resolveList maps a drop target to a list: the list itself, or the list
// holding the card with that id
func (r *Router) resolveList(overID string) string {
	if overID == "" {
		return ""
	}
	if r.isList(overID) {
		return overID
	}
	if listID, ok := r.board.ListOf(overID); ok {
		return listID
	}
	return ""
}

func (r *Router) classify(entityID string) (Kind, string) {
	lists := r.board.ListIDs()
	for _, id := range lists {
		if id == entityID {
			return KindList, id
		}
	}
	for _, listID := range lists {
		for _, cardID := range r.board.CardIDs(listID) {
			if cardID == entityID {
				return KindCard, listID
			}
		}
	}
	return KindNone, ""
}

func (r *Router) isList(id string) bool {
	return order.IndexOf(r.board.ListIDs(), id) >= 0
}

func (r *Router) reset() {
	if r.phase == PhaseDragging {
		r.sink.DragFinished(r.entityID)
	}
	r.phase = PhaseIdle
	r.kind = KindNone
	r.entityID = ""
	r.originList = ""
	r.pressed = false
	r.pressID = ""
}

// PointerDown records a press on entityID. Nothing is dragged until the
// pointer has travelled ActivationDistance.
func (r *Router) PointerDown(entityID string, x, y float64) {
	r.pressed = true
	r.pressID = entityID
	r.startX = x
	r.startY = y
}

// PointerMove starts the drag once the threshold is crossed and reports
// overID as the hovered target while dragging
func (r *Router) PointerMove(x, y float64, overID string) error {
	if r.phase == PhaseDragging {
		return r.DragHovered(overID)
	}
	if !r.pressed {
		return nil
	}
	if math.Hypot(x-r.startX, y-r.startY) < ActivationDistance {
		return nil
	}
	id := r.pressID
	r.pressed = false
	if err := r.DragStarted(id); err != nil {
		return err
	}
	if r.phase == PhaseDragging {
		return r.DragHovered(overID)
	}
	return nil
}

// PointerUp ends a drag on overID. A release below the threshold is a click.
func (r *Router) PointerUp(overID string) error {
	r.pressed = false
	r.pressID = ""
	if r.phase != PhaseDragging {
		return nil
	}
	return r.DragEnded(overID)
}
