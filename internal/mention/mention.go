// Package mention extracts @handles from message text and resolves them
// against conversation members.
//
// A token is '@' followed by a run of identifier characters (letters,
// digits, '_'). The run stops at the first other character, so "@bob,"
// and "@bob!" both yield "bob". An '@' preceded by an identifier
// character ("bob@example.com") does not start a token.
package mention

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/domain"
)

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Extract returns the distinct mention tokens in content, lowercased, in
// order of first appearance.
func Extract(content string) []string {
	var tokens []string
	seen := make(map[string]struct{})

	runes := []rune(content)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '@' {
			continue
		}
		if i > 0 && isIdentRune(runes[i-1]) {
			continue
		}
		j := i + 1
		for j < len(runes) && isIdentRune(runes[j]) {
			j++
		}
		if j == i+1 {
			continue
		}
		token := strings.ToLower(string(runes[i+1 : j]))
		if _, dup := seen[token]; !dup {
			seen[token] = struct{}{}
			tokens = append(tokens, token)
		}
		i = j - 1
	}
	return tokens
}

// Handle is the name a user is mentioned by: the explicit username when
// set, otherwise first and last name joined and stripped of anything that
// is not an identifier character. Handles compare case-insensitively.
func Handle(u domain.User) string {
	if u.Username != "" {
		return strings.ToLower(u.Username)
	}
	var b strings.Builder
	for _, r := range u.FirstName + u.LastName {
		if isIdentRune(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Resolve maps tokens onto member ids. Tokens matching nobody are dropped;
// a member matched by several tokens appears once.
func Resolve(tokens []string, members []domain.User) []uuid.UUID {
	if len(tokens) == 0 {
		return nil
	}
	byHandle := make(map[string][]uuid.UUID, len(members))
	for _, m := range members {
		h := Handle(m)
		if h == "" {
			continue
		}
		byHandle[h] = append(byHandle[h], m.ID)
	}

	var ids []uuid.UUID
	seen := make(map[uuid.UUID]struct{})
	for _, token := range tokens {
		for _, id := range byHandle[strings.ToLower(token)] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// Recipients drops the sender from the resolved set: nobody is notified
// about mentioning themselves.
func Recipients(senderID uuid.UUID, resolved []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(resolved))
	for _, id := range resolved {
		if id != senderID {
			out = append(out, id)
		}
	}
	return out
}
