package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/CrowderSoup/boardsync/board/order"
	"github.com/CrowderSoup/boardsync/models"
)

// CreateBoard creates a board owned by ownerID
func (s *BoardService) CreateBoard(ctx context.Context, ownerID string, in models.NewBoard) (*models.Board, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("board name is required: %w", ErrInvalid)
	}
	vis := in.Visibility
	switch vis {
	case "":
		vis = models.VisibilityPrivate
	case models.VisibilityPrivate, models.VisibilityWorkspace, models.VisibilityPublic:
	default:
		return nil, fmt.Errorf("unknown visibility %q: %w", vis, ErrInvalid)
	}

	b := &models.Board{
		ID:         uuid.NewString(),
		Name:       name,
		Background: in.Background,
		Visibility: vis,
		Members:    []models.Member{},
		ListIDs:    []string{},
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO boards (id, name, background, visibility) VALUES (?, ?, ?, ?)",
			b.ID, b.Name, b.Background, string(b.Visibility))
		if err != nil {
			return fmt.Errorf("failed to insert board: %w", err)
		}
		if ownerID != "" {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO board_members (board_id, user_id, role) VALUES (?, ?, 'owner')",
				b.ID, ownerID); err != nil {
				return fmt.Errorf("failed to insert board owner: %w", err)
			}
			b.Members = append(b.Members, models.Member{UserID: ownerID, Role: "owner"})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("board", b.ID).Str("owner", ownerID).Msg("board created")
	return b, nil
}

// GetBoard returns the canonical snapshot of a board, with lists and cards
// ordered by (position, id)
func (s *BoardService) GetBoard(ctx context.Context, boardID string) (*models.BoardSnapshot, error) {
	snap := &models.BoardSnapshot{Lists: []models.List{}, Cards: []models.Card{}}
	b := &snap.Board

	var starred int
	var vis string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, background, visibility, starred FROM boards WHERE id = ?", boardID,
	).Scan(&b.ID, &b.Name, &b.Background, &vis, &starred)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("board", boardID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query board: %w", err)
	}
	b.Visibility = models.Visibility(vis)
	b.Starred = starred != 0

	if b.Members, err = s.members(ctx, boardID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, position, wip_limit, auto_move FROM lists WHERE board_id = ? ORDER BY position, id", boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lists: %w", err)
	}
	listIdx := map[string]int{}
	for rows.Next() {
		l := models.List{BoardID: boardID, CardIDs: []string{}}
		var autoMove string
		if err := rows.Scan(&l.ID, &l.Name, &l.Position, &l.Settings.WIPLimit, &autoMove); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan list: %w", err)
		}
		if err := json.Unmarshal([]byte(autoMove), &l.Settings.AutoMoveRules); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to decode auto-move rules of list %s: %w", l.ID, err)
		}
		listIdx[l.ID] = len(snap.Lists)
		snap.Lists = append(snap.Lists, l)
		b.ListIDs = append(b.ListIDs, l.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lists: %w", err)
	}
	if b.ListIDs == nil {
		b.ListIDs = []string{}
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT c.id, c.list_id, c.title, c.position
		FROM cards c JOIN lists l ON c.list_id = l.id
		WHERE l.board_id = ?
		ORDER BY l.position, l.id, c.position, c.id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	cardIdx := map[string]int{}
	for rows.Next() {
		c := models.Card{Tasks: []models.Task{}}
		if err := rows.Scan(&c.ID, &c.ListID, &c.Title, &c.Position); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cardIdx[c.ID] = len(snap.Cards)
		snap.Cards = append(snap.Cards, c)
		l := &snap.Lists[listIdx[c.ListID]]
		l.CardIDs = append(l.CardIDs, c.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cards: %w", err)
	}

	tasks, err := loadTasks(ctx, s.db, `t.card_id IN (
		SELECT c.id FROM cards c JOIN lists l ON c.list_id = l.id WHERE l.board_id = ?)`, boardID)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		c := &snap.Cards[cardIdx[t.CardID]]
		c.Tasks = append(c.Tasks, t)
	}
	return snap, nil
}

func (s *BoardService) members(ctx context.Context, boardID string) ([]models.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, role FROM board_members WHERE board_id = ? ORDER BY user_id", boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()
	members := []models.Member{}
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.UserID, &m.Role); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// CreateList inserts a list at index position of the board order. A
// negative or out-of-range position appends.
func (s *BoardService) CreateList(ctx context.Context, boardID, name string, position int, settings models.ListSettings) (*models.List, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("list name is required: %w", ErrInvalid)
	}
	autoMove, err := json.Marshal(nonNilRules(settings.AutoMoveRules))
	if err != nil {
		return nil, fmt.Errorf("failed to encode auto-move rules: %w", err)
	}

	l := &models.List{ID: uuid.NewString(), BoardID: boardID, Name: name, CardIDs: []string{}, Settings: settings}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := exists(ctx, tx, "boards", boardID); err != nil {
			return err
		}
		ids, err := listIDs(ctx, tx, boardID)
		if err != nil {
			return err
		}
		if position < 0 || position > len(ids) {
			position = len(ids)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO lists (id, board_id, name, position, wip_limit, auto_move) VALUES (?, ?, ?, ?, ?, ?)",
			l.ID, boardID, name, 0, settings.WIPLimit, string(autoMove)); err != nil {
			return fmt.Errorf("failed to insert list: %w", err)
		}
		next := append(append(append([]string{}, ids[:position]...), l.ID), ids[position:]...)
		return renumberLists(ctx, tx, next)
	})
	if err != nil {
		return nil, err
	}
	l.Position = position * models.PositionStep
	return l, nil
}

// DeleteList removes a list with its cards and returns its board id
func (s *BoardService) DeleteList(ctx context.Context, listID string) (string, error) {
	var boardID string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if boardID, err = boardOfList(ctx, tx, listID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM lists WHERE id = ?", listID); err != nil {
			return fmt.Errorf("failed to delete list: %w", err)
		}
		ids, err := listIDs(ctx, tx, boardID)
		if err != nil {
			return err
		}
		return renumberLists(ctx, tx, ids)
	})
	return boardID, err
}

// CreateCard inserts a card at index position of a list. A negative or
// out-of-range position appends.
func (s *BoardService) CreateCard(ctx context.Context, listID, title string, position int) (*models.Card, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("card title is required: %w", ErrInvalid)
	}
	c := &models.Card{ID: uuid.NewString(), ListID: listID, Title: title, Tasks: []models.Task{}}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := exists(ctx, tx, "lists", listID); err != nil {
			return err
		}
		ids, err := cardIDs(ctx, tx, listID)
		if err != nil {
			return err
		}
		if position < 0 || position > len(ids) {
			position = len(ids)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO cards (id, list_id, title, position) VALUES (?, ?, ?, 0)", c.ID, listID, title); err != nil {
			return fmt.Errorf("failed to insert card: %w", err)
		}
		next := append(append(append([]string{}, ids[:position]...), c.ID), ids[position:]...)
		return renumberCards(ctx, tx, listID, next)
	})
	if err != nil {
		return nil, err
	}
	c.Position = position * models.PositionStep
	return c, nil
}

// DeleteCard removes a card with its tasks and returns its board id
func (s *BoardService) DeleteCard(ctx context.Context, cardID string) (string, error) {
	var boardID string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		listID, bID, err := placeOfCard(ctx, tx, cardID)
		if err != nil {
			return err
		}
		boardID = bID
		if _, err := tx.ExecContext(ctx, "DELETE FROM cards WHERE id = ?", cardID); err != nil {
			return fmt.Errorf("failed to delete card: %w", err)
		}
		ids, err := cardIDs(ctx, tx, listID)
		if err != nil {
			return err
		}
		return renumberCards(ctx, tx, listID, ids)
	})
	return boardID, err
}

// MoveCard moves a card to index position of targetListID, which must be on
// the same board. Both lists are renumbered in one transaction.
func (s *BoardService) MoveCard(ctx context.Context, cardID, targetListID string, position int) (*models.Placement, error) {
	var out *models.Placement
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sourceID, boardID, err := placeOfCard(ctx, tx, cardID)
		if err != nil {
			return err
		}
		targetBoard, err := boardOfList(ctx, tx, targetListID)
		if err != nil {
			return err
		}
		if targetBoard != boardID {
			return fmt.Errorf("list %s is on another board: %w", targetListID, ErrInvalid)
		}

		src, err := cardIDs(ctx, tx, sourceID)
		if err != nil {
			return err
		}
		if sourceID == targetListID {
			next, moved := order.ReorderWithinList(src, order.IndexOf(src, cardID), position)
			if moved {
				src = next
				if err := renumberCards(ctx, tx, sourceID, src); err != nil {
					return err
				}
			}
			out = &models.Placement{BoardID: boardID, ListID: sourceID, Position: order.IndexOf(src, cardID)}
			return nil
		}

		dst, err := cardIDs(ctx, tx, targetListID)
		if err != nil {
			return err
		}
		src, dst, err = order.MoveAcrossLists(cardID, src, dst, position)
		if err != nil {
			return fmt.Errorf("%v: %w", err, ErrInvalid)
		}
		if err := renumberCards(ctx, tx, sourceID, src); err != nil {
			return err
		}
		if err := renumberCards(ctx, tx, targetListID, dst); err != nil {
			return err
		}
		out = &models.Placement{BoardID: boardID, ListID: targetListID, Position: order.IndexOf(dst, cardID)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("card", cardID).Str("list", out.ListID).Int("position", out.Position).Msg("card moved")
	return out, nil
}

// ReorderCard moves a card to index position within its own list
func (s *BoardService) ReorderCard(ctx context.Context, cardID string, position int) (*models.Placement, error) {
	var out *models.Placement
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		listID, boardID, err := placeOfCard(ctx, tx, cardID)
		if err != nil {
			return err
		}
		ids, err := cardIDs(ctx, tx, listID)
		if err != nil {
			return err
		}
		if next, moved := order.ReorderWithinList(ids, order.IndexOf(ids, cardID), position); moved {
			ids = next
			if err := renumberCards(ctx, tx, listID, ids); err != nil {
				return err
			}
		}
		out = &models.Placement{BoardID: boardID, ListID: listID, Position: order.IndexOf(ids, cardID)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReorderList moves a list to index position. When listOrder names exactly
// the board's lists it is applied verbatim instead; the last write wins.
func (s *BoardService) ReorderList(ctx context.Context, listID string, position int, listOrder []string) (*models.Placement, []string, error) {
	var (
		out  *models.Placement
		next []string
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		boardID, err := boardOfList(ctx, tx, listID)
		if err != nil {
			return err
		}
		ids, err := listIDs(ctx, tx, boardID)
		if err != nil {
			return err
		}
		next = ids
		if order.IsPermutation(ids, listOrder) {
			next = append([]string{}, listOrder...)
		} else if moved, ok := order.ReorderLists(ids, order.IndexOf(ids, listID), position); ok {
			next = moved
		}
		if err := renumberLists(ctx, tx, next); err != nil {
			return err
		}
		out = &models.Placement{BoardID: boardID, Position: order.IndexOf(next, listID)}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, next, nil
}

// BoardOfCard returns the board a card is on
func (s *BoardService) BoardOfCard(ctx context.Context, cardID string) (string, error) {
	_, boardID, err := placeOfCard(ctx, s.db, cardID)
	return boardID, err
}

func exists(ctx context.Context, q querier, table, id string) error {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(strings.TrimSuffix(table, "s"), id)
	}
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", table, err)
	}
	return nil
}

func boardOfList(ctx context.Context, q querier, listID string) (string, error) {
	var boardID string
	err := q.QueryRowContext(ctx, "SELECT board_id FROM lists WHERE id = ?", listID).Scan(&boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound("list", listID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query list: %w", err)
	}
	return boardID, nil
}

// placeOfCard returns the list and board holding cardID
func placeOfCard(ctx context.Context, q querier, cardID string) (string, string, error) {
	var listID, boardID string
	err := q.QueryRowContext(ctx,
		"SELECT c.list_id, l.board_id FROM cards c JOIN lists l ON c.list_id = l.id WHERE c.id = ?", cardID,
	).Scan(&listID, &boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", notFound("card", cardID)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to query card: %w", err)
	}
	return listID, boardID, nil
}

func listIDs(ctx context.Context, q querier, boardID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT id FROM lists WHERE board_id = ? ORDER BY position, id", boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lists: %w", err)
	}
	return scanIDs(rows)
}

func cardIDs(ctx context.Context, q querier, listID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT id FROM cards WHERE list_id = ? ORDER BY position, id", listID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	return scanIDs(rows)
}

func renumberLists(ctx context.Context, q querier, ids []string) error {
	for i, id := range ids {
		if _, err := q.ExecContext(ctx, "UPDATE lists SET position = ? WHERE id = ?", i*models.PositionStep, id); err != nil {
			return fmt.Errorf("failed to renumber lists: %w", err)
		}
	}
	return nil
}

// renumberCards rewrites positions of ids and makes listID their owner
func renumberCards(ctx context.Context, q querier, listID string, ids []string) error {
	for i, id := range ids {
		if _, err := q.ExecContext(ctx,
			"UPDATE cards SET list_id = ?, position = ? WHERE id = ?", listID, i*models.PositionStep, id); err != nil {
			return fmt.Errorf("failed to renumber cards: %w", err)
		}
	}
	return nil
}

func nonNilRules(r []models.AutoMoveRule) []models.AutoMoveRule {
	if r == nil {
		return []models.AutoMoveRule{}
	}
	return r
}
