package roles

// RoleRecord is the persisted role state for one user.
// IsAdmin and IsTeacher are independent flags; SelectDashboard picks a
// single presentation from them.
type RoleRecord struct {
	IsAdmin   bool   `json:"is_admin"`
	IsTeacher bool   `json:"is_teacher"`
	Title     string `json:"title,omitempty"`
}

// Default returns the least-privileged record (plain user).
func Default() RoleRecord {
	return RoleRecord{}
}

// Equal reports whether two records carry the same flags and title.
func (r RoleRecord) Equal(other RoleRecord) bool {
	return r == other
}
