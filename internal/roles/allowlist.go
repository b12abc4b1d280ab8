package roles

import (
	"sort"
	"strings"
)

// Entry is one allow-listed administrator email and its dashboard title.
type Entry struct {
	Email string
	Title string
}

// builtinAdmins are the operationally critical accounts that always
// resolve to admin.
var builtinAdmins = []Entry{
	{Email: "principal@school.edu", Title: "Principal Dashboard"},
	{Email: "docmanager@school.edu", Title: "Document Manager Dashboard"},
}

// AllowList is an immutable, case-insensitive email to title lookup.
// A nil *AllowList contains no entries.
type AllowList struct {
	titles map[string]string
}

// NewAllowList builds an allow-list from entries. Later entries replace
// the title of earlier ones with the same email. Blank emails are skipped.
func NewAllowList(entries ...Entry) *AllowList {
	a := &AllowList{titles: make(map[string]string, len(entries))}
	for _, e := range entries {
		email := normaliseEmail(e.Email)
		if email == "" {
			continue
		}
		a.titles[email] = strings.TrimSpace(e.Title)
	}
	return a
}

// DefaultAllowList returns the built-in allow-list.
func DefaultAllowList() *AllowList {
	return NewAllowList(builtinAdmins...)
}

// With returns a copy of the allow-list extended by entries.
func (a *AllowList) With(entries ...Entry) *AllowList {
	merged := make([]Entry, 0, a.Len()+len(entries))
	if a != nil {
		for email, title := range a.titles {
			merged = append(merged, Entry{Email: email, Title: title})
		}
	}
	return NewAllowList(append(merged, entries...)...)
}

// Lookup returns the title for email and whether email is allow-listed.
func (a *AllowList) Lookup(email string) (string, bool) {
	if a == nil {
		return "", false
	}
	title, ok := a.titles[normaliseEmail(email)]
	return title, ok
}

// Contains reports whether email is allow-listed.
func (a *AllowList) Contains(email string) bool {
	_, ok := a.Lookup(email)
	return ok
}

// Emails returns the allow-listed emails in sorted order.
func (a *AllowList) Emails() []string {
	if a == nil {
		return nil
	}
	emails := make([]string, 0, len(a.titles))
	for email := range a.titles {
		emails = append(emails, email)
	}
	sort.Strings(emails)
	return emails
}

// Len returns the number of entries.
func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.titles)
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
