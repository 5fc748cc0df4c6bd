package state

import "fmt"

// MutationKind identifies the ordering change carried by a Mutation
type MutationKind int

const (
	CardReorder MutationKind = iota + 1
	CardMove
	ListReorder
)

func (k MutationKind) String() string {
	switch k {
	case CardReorder:
		return "card-reorder"
	case CardMove:
		return "card-move"
	case ListReorder:
		return "list-reorder"
	default:
		return fmt.Sprintf("mutation(%d)", int(k))
	}
}

// Mutation is a tentative ordering change computed by the order package.
// Sequences hold the complete new card order of every list it touches;
// ListOrder holds the complete new list order for ListReorder.
type Mutation struct {
	Kind      MutationKind
	CardID    string
	ListID    string
	Sequences map[string][]string
	ListOrder []string
}
