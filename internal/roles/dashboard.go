package roles

// Dashboard is the single view mounted for a session.
type Dashboard string

const (
	DashboardAdmin   Dashboard = "admin"
	DashboardTeacher Dashboard = "teacher"
	DashboardPlain   Dashboard = "plain"
)

// String returns the dashboard name.
func (d Dashboard) String() string {
	return string(d)
}

// SelectDashboard picks exactly one dashboard for the effective roles.
//
// The allow-list check duplicates rule 1 of Resolve. It is kept as a
// provisional fallback for views rendered before resolution completes and
// for sessions whose role fetch failed.
func (p *Policy) SelectDashboard(record RoleRecord, email string) Dashboard {
	switch {
	case record.IsAdmin || p.AllowList().Contains(email):
		return DashboardAdmin
	case record.IsTeacher:
		return DashboardTeacher
	default:
		return DashboardPlain
	}
}
