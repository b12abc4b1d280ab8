package roles

import (
	"strings"

	"github.com/nerrad567/schooldocs-core/internal/identity"
)

// Rule identifies which resolution rule produced a record.
type Rule int

const (
	// RuleAllowList: the email is allow-listed; stored data is ignored.
	RuleAllowList Rule = iota + 1
	// RuleStored: the stored record is returned unchanged.
	RuleStored
	// RuleTeacherEmail: no stored record and the email mentions "teacher".
	RuleTeacherEmail
	// RulePlain: no stored record and no other rule matched.
	RulePlain
)

// String returns the rule name used in logs and metrics.
func (r Rule) String() string {
	switch r {
	case RuleAllowList:
		return "allow_list"
	case RuleStored:
		return "stored"
	case RuleTeacherEmail:
		return "teacher_email"
	case RulePlain:
		return "plain"
	default:
		return "unknown"
	}
}

// Resolution is the outcome of Policy.Resolve.
type Resolution struct {
	Record RoleRecord
	Rule   Rule
}

// NeedsWriteBack reports whether the caller should persist Record so
// storage converges to the allow-list.
func (r Resolution) NeedsWriteBack() bool {
	return r.Rule == RuleAllowList
}

// Policy applies one allow-list to both role resolution and dashboard
// selection. The zero value and a nil *Policy behave as an empty allow-list.
type Policy struct {
	allow *AllowList
}

// NewPolicy returns a Policy backed by allow.
func NewPolicy(allow *AllowList) *Policy {
	return &Policy{allow: allow}
}

// AllowList returns the allow-list shared by Resolve and SelectDashboard.
func (p *Policy) AllowList() *AllowList {
	if p == nil {
		return nil
	}
	return p.allow
}

// Resolve returns the effective roles for id. First match wins:
//  1. allow-listed email: admin with the allow-list title
//  2. stored record present: stored record verbatim
//  3. email contains "teacher": teacher
//  4. plain user
func (p *Policy) Resolve(id identity.Identity, stored *RoleRecord) Resolution {
	if title, ok := p.AllowList().Lookup(id.Email); ok {
		return Resolution{
			Record: RoleRecord{IsAdmin: true, Title: title},
			Rule:   RuleAllowList,
		}
	}

	if stored != nil {
		return Resolution{Record: *stored, Rule: RuleStored}
	}

	if inferTeacherFromEmail(id.Email) {
		return Resolution{Record: RoleRecord{IsTeacher: true}, Rule: RuleTeacherEmail}
	}

	return Resolution{Record: Default(), Rule: RulePlain}
}

// SignupDefaults returns the RoleRecord written when an account is created.
func (p *Policy) SignupDefaults(email string) RoleRecord {
	return p.Resolve(identity.Identity{Email: email}, nil).Record
}

// inferTeacherFromEmail guesses the teacher role from the email text.
// It is a provisioning heuristic for accounts created before roles were
// assigned explicitly; removing it only changes rule 3 of Resolve.
func inferTeacherFromEmail(email string) bool {
	return strings.Contains(strings.ToLower(email), "teacher")
}
