package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wesm/mailcore/internal/mime"
	"github.com/wesm/mailcore/internal/publicid"
)

// ReconcileMessage looks for a stored message that a synced message
// duplicates. It returns the stored message and true on a match.
//
//   - No inbox uid: match any message in the namespace with the same
//     content hash.
//   - Legacy uid (no "-"): match an API-created message by inbox_uid.
//   - "<public_id>-<version>": match the API-created message with that
//     public id, but only when the synced version is not newer than the
//     stored one. The match copies Message-Id and References onto the
//     stored row.
func ReconcileMessage(ctx context.Context, tx *Tx, namespaceID int64, synced *mime.Message) (*Message, bool, error) {
	if synced.InboxUID == "" {
		m, err := findMessage(ctx, tx, `namespace_id = ? AND data_sha256 = ?`, namespaceID, synced.SHA256)
		if err != nil || m == nil {
			return nil, false, err
		}
		return m, true, nil
	}

	var (
		existing *Message
		version  int64 = -1
		err      error
	)
	if pubID, ver, ok := splitInboxUID(synced.InboxUID); ok {
		version = ver
		existing, err = findMessage(ctx, tx,
			`namespace_id = ? AND public_id = ? AND is_created = ?`, namespaceID, pubID, true)
	} else {
		existing, err = findMessage(ctx, tx,
			`namespace_id = ? AND inbox_uid = ? AND is_created = ?`, namespaceID, synced.InboxUID, true)
	}
	if err != nil || existing == nil {
		return nil, false, err
	}
	if version > existing.Version {
		return nil, false, nil
	}

	existing.MessageIDHeader = nullString(synced.MessageID)
	existing.ReferencesHeader = nullString(synced.ReferencesHeader())
	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET message_id_header = ?, references_header = ? WHERE id = ?`,
		existing.MessageIDHeader, existing.ReferencesHeader, existing.ID,
	); err != nil {
		return nil, false, fmt.Errorf("merge synced headers: %w", err)
	}
	return existing, true, nil
}

// splitInboxUID parses "<public_id>-<version>". Legacy uids without a
// dash, or with a non-numeric version, report ok=false.
func splitInboxUID(uid string) (string, int64, bool) {
	idx := strings.LastIndex(uid, "-")
	if idx <= 0 {
		return "", 0, false
	}
	ver, err := strconv.ParseInt(uid[idx+1:], 10, 64)
	if err != nil || ver < 0 {
		return "", 0, false
	}
	return uid[:idx], ver, true
}

func findMessage(ctx context.Context, tx *Tx, where string, args ...interface{}) (*Message, error) {
	var m Message
	var subject, snippet sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT id, public_id, namespace_id, thread_id, subject, snippet, received_date,
		       is_draft, is_read, is_starred, is_created, version,
		       inbox_uid, message_id_header, references_header, data_sha256
		FROM messages
		WHERE `+where+`
		ORDER BY id
		LIMIT 1
	`, args...).Scan(
		&m.ID, &m.PublicID, &m.NamespaceID, &m.ThreadID, &subject, &snippet, &m.ReceivedDate,
		&m.IsDraft, &m.IsRead, &m.IsStarred, &m.IsCreated, &m.Version,
		&m.InboxUID, &m.MessageIDHeader, &m.ReferencesHeader, &m.DataSHA256,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find message: %w", err)
	}
	m.Subject = subject.String
	m.Snippet = snippet.String
	return &m, nil
}

// IngestResult reports what IngestSynced did with a raw message.
type IngestResult struct {
	Message    *Message
	Reconciled bool
	Blocks     int
}

// IngestSynced parses a raw synced message and either reconciles it with
// an existing message or stores it as a new one. A threadID of 0 starts a
// new thread. The message date falls back to receivedAt when the Date
// header is missing or unparseable.
func (s *Store) IngestSynced(ctx context.Context, namespaceID, threadID int64, raw []byte, receivedAt time.Time) (*IngestResult, error) {
	parsed, err := mime.ParseSynced(raw)
	if err != nil {
		return nil, fmt.Errorf("parse synced message: %w", err)
	}

	res := &IngestResult{}
	err = s.WithTx(ctx, func(tx *Tx) error {
		existing, ok, err := ReconcileMessage(ctx, tx, namespaceID, parsed)
		if err != nil {
			return err
		}
		if ok {
			res.Message = existing
			res.Reconciled = true
			return nil
		}

		date := parsed.Date
		if date.IsZero() {
			date = receivedAt
		}
		date = date.UTC()

		if threadID == 0 {
			if err := tx.QueryRowContext(ctx, `
				INSERT INTO threads (public_id, namespace_id, subject, subjectdate, recentdate)
				VALUES (?, ?, ?, ?, ?)
				RETURNING id
			`, publicid.New(), namespaceID, parsed.Subject, date, date).Scan(&threadID); err != nil {
				return fmt.Errorf("insert thread: %w", err)
			}
		}

		m := &Message{
			NamespaceID:      namespaceID,
			ThreadID:         threadID,
			Subject:          parsed.Subject,
			Snippet:          parsed.Snippet,
			ReceivedDate:     date,
			MessageIDHeader:  nullString(parsed.MessageID),
			ReferencesHeader: nullString(parsed.ReferencesHeader()),
			DataSHA256:       nullString(parsed.SHA256),
			InboxUID:         nullString(parsed.InboxUID),
			From:             parsed.From,
			To:               parsed.To,
			Cc:               parsed.Cc,
			Bcc:              parsed.Bcc,
		}
		if err := insertMessageTx(ctx, tx, m); err != nil {
			return err
		}

		for _, att := range parsed.Attachments {
			var blockID int64
			if err := tx.QueryRowContext(ctx, `
				INSERT INTO blocks (public_id, namespace_id, filename, size, content_type, data_sha256)
				VALUES (?, ?, ?, ?, ?, ?)
				RETURNING id
			`, publicid.New(), namespaceID, nullString(att.Filename), att.Size,
				nullString(att.ContentType), att.SHA256).Scan(&blockID); err != nil {
				return fmt.Errorf("insert block: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO parts (message_id, block_id, content_disposition, content_id)
				VALUES (?, ?, ?, ?)
			`, m.ID, blockID, nullString(att.Disposition), nullString(att.ContentID)); err != nil {
				return fmt.Errorf("insert part: %w", err)
			}
			res.Blocks++
		}
		res.Message = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
