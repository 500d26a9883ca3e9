package query

import "github.com/wesm/mailcore/internal/publicid"

// categoryMatch renders the OR of the clauses a category token can match
// and their binds. The public id clause is only included when the token
// is shaped like a public id; otherwise it is dropped without error.
func categoryMatch(token string) (string, []interface{}) {
	cond := "c.name = ? OR c.display_name = ?"
	args := []interface{}{token, token}
	if publicid.Valid(token) {
		cond += " OR c.public_id = ?"
		args = append(args, token)
	}
	return "(" + cond + ")", args
}

// restrictMessageCategory limits messages to those in the category the
// token names.
func restrictMessageCategory(b *selectBuilder, token string, namespaceID int64) {
	match, args := categoryMatch(token)
	b.and(`m.id IN (SELECT mc.message_id
	FROM message_categories mc
	JOIN categories c ON c.id = mc.category_id
	WHERE c.namespace_id = ? AND `+match+`)`, append([]interface{}{namespaceID}, args...)...)
}

// restrictThreadCategory limits threads to those with at least one
// message in the category. Membership is a subquery so a thread with
// several matching messages is still one row.
func restrictThreadCategory(b *selectBuilder, token string, namespaceID int64) {
	match, args := categoryMatch(token)
	b.and(`t.id IN (SELECT m.thread_id
	FROM messages m
	JOIN message_categories mc ON mc.message_id = m.id
	JOIN categories c ON c.id = mc.category_id
	WHERE c.namespace_id = ? AND `+match+`)`, append([]interface{}{namespaceID}, args...)...)
}
