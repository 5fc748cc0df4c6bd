package models

// Push event types sent to joined rooms
const (
	EventTaskCreated   = "task:created"
	EventTaskUpdated   = "task:updated"
	EventTaskDeleted   = "task:deleted"
	EventCardMoved     = "card:moved"
	EventListReordered = "list:reordered"
	EventListCreated   = "list:created"
	EventListDeleted   = "list:deleted"
	EventCardCreated   = "card:created"
	EventCardDeleted   = "card:deleted"
)

// PushEvent is the payload of a live update. Only the fields relevant to
// Type are set.
type PushEvent struct {
	Type      string    `json:"type"`
	BoardID   string    `json:"boardId,omitempty"`
	CardID    string    `json:"cardId,omitempty"`
	TaskID    string    `json:"taskId,omitempty"`
	Task      *Task     `json:"task,omitempty"`
	List      *List     `json:"list,omitempty"`
	Card      *Card     `json:"card,omitempty"`
	ListID    string    `json:"listId,omitempty"`
	Position  int       `json:"position,omitempty"`
	ListOrder []ListRef `json:"listOrder,omitempty"`
}

// CardRoom is the room name for task events on a card
func CardRoom(cardID string) string {
	return "card:" + cardID
}

// BoardRoom is the room name for ordering events on a board
func BoardRoom(boardID string) string {
	return "board:" + boardID
}

// ListRef is one entry of a list order on the wire: {"listId": "..."}
type ListRef struct {
	ListID string `json:"listId"`
}

// ListRefs wraps ids for the wire. nil stays nil.
func ListRefs(ids []string) []ListRef {
	if ids == nil {
		return nil
	}
	refs := make([]ListRef, len(ids))
	for i, id := range ids {
		refs[i] = ListRef{ListID: id}
	}
	return refs
}

// ListRefIDs unwraps refs. nil stays nil.
func ListRefIDs(refs []ListRef) []string {
	if refs == nil {
		return nil
	}
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ListID
	}
	return ids
}
