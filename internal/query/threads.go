package query

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

var threadShape = shape{
	resource:    "threads",
	countExpr:   "DISTINCT t.id",
	idColumn:    "t.public_id",
	fullColumns: "t.id, t.public_id, COALESCE(t.subject, ''), t.subjectdate, t.recentdate",
	orderBy:     "t.recentdate DESC, t.id DESC",
}

// Threads lists threads in a namespace, most recent first.
func (e *Engine) Threads(ctx context.Context, namespaceID int64, f ThreadFilter, view View, page Page) (Result, error) {
	if err := checkView(view); err != nil {
		return nil, err
	}

	sel := newSelect("threads t")
	sel.and("t.namespace_id = ?", namespaceID)
	a := assemble(sel, threadFilters(), &scoped[ThreadFilter]{ns: namespaceID, f: f})
	q := e.render(threadShape, sel, a, view, page, true)

	switch view {
	case ViewCount:
		n, err := e.count(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("count threads: %w", err)
		}
		return Count{N: n}, nil
	case ViewIDs:
		ids, err := e.queryIDs(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("list thread ids: %w", err)
		}
		return IDs{IDs: ids}, nil
	}

	rows, err := e.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	items := []ThreadItem{}
	for rows.Next() {
		var t ThreadItem
		if err := rows.Scan(&t.ID, &t.PublicID, &t.Subject, &t.SubjectDate, &t.RecentDate); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	rows.Close()

	if err := e.loadThreadRelations(ctx, items, view == ViewExpanded); err != nil {
		return nil, err
	}
	return Items[ThreadItem]{Items: items}, nil
}

// loadThreadRelations fills in the message-derived fields of threads.
func (e *Engine) loadThreadRelations(ctx context.Context, threads []ThreadItem, expand bool) error {
	if len(threads) == 0 {
		return nil
	}
	threadIDs := make([]int64, len(threads))
	index := make(map[int64]int, len(threads))
	for i, t := range threads {
		threadIDs[i] = t.ID
		index[t.ID] = i
	}

	msgs, err := e.fetchThreadMessages(ctx, threadIDs)
	if err != nil {
		return fmt.Errorf("load thread messages: %w", err)
	}
	msgIDs := make([]int64, len(msgs))
	for i, m := range msgs {
		msgIDs[i] = m.id
	}

	var (
		people map[int64]*participants
		cats   map[int64][]CategoryRef
		files  map[int64][]FileRef
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		people, err = e.fetchParticipants(gctx, msgIDs)
		return err
	})
	g.Go(func() error {
		var err error
		cats, err = e.fetchMessageCategories(gctx, msgIDs)
		return err
	})
	g.Go(func() error {
		var err error
		files, err = e.fetchMessageFiles(gctx, msgIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load thread relations: %w", err)
	}

	seenAddr := make(map[int64]map[string]bool, len(threads))
	seenCat := make(map[int64]map[string]bool, len(threads))
	for _, m := range msgs {
		t := &threads[index[m.threadID]]
		if m.isDraft {
			t.DraftIDs = append(t.DraftIDs, m.publicID)
		} else {
			t.MessageIDs = append(t.MessageIDs, m.publicID)
		}
		if !m.isRead {
			t.Unread = true
		}
		if m.isStarred {
			t.Starred = true
		}
		if len(files[m.id]) > 0 {
			t.HasAttachments = true
		}

		p := people[m.id]
		if p == nil {
			p = &participants{}
		}
		if seenAddr[t.ID] == nil {
			seenAddr[t.ID] = make(map[string]bool)
			seenCat[t.ID] = make(map[string]bool)
		}
		for _, list := range [][]Address{p.From, p.To, p.Cc, p.Bcc} {
			for _, addr := range list {
				if !seenAddr[t.ID][addr.Email] {
					seenAddr[t.ID][addr.Email] = true
					t.Participants = append(t.Participants, addr)
				}
			}
		}
		for _, c := range cats[m.id] {
			if !seenCat[t.ID][c.PublicID] {
				seenCat[t.ID][c.PublicID] = true
				t.Categories = append(t.Categories, c)
			}
		}

		if expand {
			t.Messages = append(t.Messages, MessageHeader{
				PublicID:     m.publicID,
				Subject:      m.subject,
				Snippet:      m.snippet,
				ReceivedDate: m.receivedDate,
				IsDraft:      m.isDraft,
				IsRead:       m.isRead,
				From:         p.From,
				To:           p.To,
			})
		}
	}
	return nil
}
