package query

import (
	"strings"

	"github.com/wesm/mailcore/internal/store"
)

// Contact roles a filter can restrict on.
var contactRoles = []string{store.RoleFrom, store.RoleTo, store.RoleCc, store.RoleBcc}

// roleMessageIDs selects ids of messages where the address appears in
// the given role. Binds: role, email, namespace id.
const roleMessageIDs = `SELECT a.message_id
	FROM message_contact_associations a
	JOIN contacts c ON c.id = a.contact_id
	WHERE a.field = ? AND c.email_address = ? AND c.namespace_id = ?`

// roleThreadIDs is roleMessageIDs projected onto thread ids.
const roleThreadIDs = `SELECT m.thread_id
	FROM messages m
	JOIN message_contact_associations a ON a.message_id = m.id
	JOIN contacts c ON c.id = a.contact_id
	WHERE a.field = ? AND c.email_address = ? AND c.namespace_id = ?`

// restrictRole adds "col IN (subquery)" for one role. Each role filter is
// its own membership test so separate filters may match different
// association rows of the same message.
func restrictRole(b *selectBuilder, col, subquery, role, email string, namespaceID int64) {
	b.and(col+" IN ("+subquery+")", role, normalizeEmail(email), namespaceID)
}

// restrictAnyEmail adds "col IN (subquery)" matching an association of
// any role whose contact address is in emails. The target is either
// "message_id" or "thread_id".
func restrictAnyEmail(b *selectBuilder, col, target string, emails []string, namespaceID int64) {
	args := make([]interface{}, 0, len(emails)+1)
	for _, e := range emails {
		args = append(args, normalizeEmail(e))
	}
	args = append(args, namespaceID)

	var sub string
	if target == "thread_id" {
		sub = `SELECT m.thread_id
	FROM messages m
	JOIN message_contact_associations a ON a.message_id = m.id
	JOIN contacts c ON c.id = a.contact_id
	WHERE c.email_address IN (` + placeholders(len(emails)) + `) AND c.namespace_id = ?`
	} else {
		sub = `SELECT a.message_id
	FROM message_contact_associations a
	JOIN contacts c ON c.id = a.contact_id
	WHERE c.email_address IN (` + placeholders(len(emails)) + `) AND c.namespace_id = ?`
	}
	b.and(col+" IN ("+sub+")", args...)
}

// Contacts are stored lowercased.
func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
