package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/nerrad567/schooldocs-core/internal/audit"
	"github.com/nerrad567/schooldocs-core/internal/roles"
)

func TestAdminEndpoints_RequireAdminDashboard(t *testing.T) {
	env := newTestEnv(t, nil)
	plain := env.signup(t, "student@school.edu")
	teacher := env.signup(t, "teacher.smith@school.edu")

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/v1/roles"},
		{http.MethodPut, "/api/v1/roles/usr-1"},
		{http.MethodGet, "/api/v1/audit"},
	}
	for _, token := range []string{plain.AccessToken, teacher.AccessToken} {
		for _, p := range paths {
			rec := env.do(t, p.method, p.path, token, roles.RoleRecord{IsAdmin: true})
			if rec.Code != http.StatusForbidden {
				t.Errorf("%s %s: status = %d, want 403", p.method, p.path, rec.Code)
			}
		}
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/roles", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: status = %d, want 401", rec.Code)
	}
}

func TestListRoles(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.signup(t, "principal@school.edu")
	env.signup(t, "teacher.smith@school.edu")

	rec := env.do(t, http.MethodGet, "/api/v1/roles", admin.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decode[roleListResponse](t, rec)
	if body.Count != 2 || len(body.Records) != 2 {
		t.Fatalf("records = %+v, want 2", body.Records)
	}
}

func TestPutRole_PropagatesToLiveSession(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.signup(t, "principal@school.edu")
	user := env.signup(t, "student@school.edu")
	userID := user.Session.Identity.ID

	rec := env.do(t, http.MethodPut, "/api/v1/roles/"+userID, admin.AccessToken,
		rolePutRequest{IsTeacher: true, Title: "  Year 9 Science  "})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	put := decode[rolePutResponse](t, rec)
	want := roles.RoleRecord{IsTeacher: true, Title: "Year 9 Science"}
	if put.Record != want || !put.Propagated || put.UserID != userID {
		t.Errorf("response = %+v", put)
	}

	waitFor(t, "live role update", func() bool {
		view := decode[sessionView](t, env.do(t, http.MethodGet, "/api/v1/session", user.AccessToken, nil))
		return view.Dashboard == roles.DashboardTeacher && view.Roles == want
	})

	entries, err := env.store.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	for _, e := range entries {
		if e.UserID == userID && e.UpdatedBy != admin.Session.Identity.ID {
			t.Errorf("UpdatedBy = %q, want admin id %q", e.UpdatedBy, admin.Session.Identity.ID)
		}
	}

	logs, err := env.audit.List(context.Background(), audit.Filter{Action: audit.ActionRoleUpdate})
	if err != nil {
		t.Fatalf("audit List() error = %v", err)
	}
	if logs.Total != 1 || logs.Logs[0].EntityID != userID || logs.Logs[0].UserID != admin.Session.Identity.ID {
		t.Errorf("role.update audit = %+v", logs)
	}
}

func TestPutRole_CannotDemoteAllowListedAdmin(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.signup(t, "principal@school.edu")
	adminID := admin.Session.Identity.ID

	rec := env.do(t, http.MethodPut, "/api/v1/roles/"+adminID, admin.AccessToken,
		rolePutRequest{Email: "principal@school.edu"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !decode[rolePutResponse](t, rec).AllowListed {
		t.Error("AllowListed should be reported")
	}

	want := roles.RoleRecord{IsAdmin: true, Title: "Principal Dashboard"}
	waitFor(t, "allow-list correction", func() bool {
		got, err := env.store.Read(context.Background(), adminID)
		return err == nil && *got == want
	})

	view := decode[sessionView](t, env.do(t, http.MethodGet, "/api/v1/session", admin.AccessToken, nil))
	if view.Dashboard != roles.DashboardAdmin || view.Roles != want {
		t.Errorf("view = %+v, want admin", view)
	}
}

func TestPutRole_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.signup(t, "principal@school.edu")

	long := make([]byte, maxTitleLength+1)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"title too long", rolePutRequest{Title: string(long)}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, "/api/v1/roles/usr-1", admin.AccessToken, tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestListAudit(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.signup(t, "principal@school.edu")
	env.signup(t, "student@school.edu")

	rec := env.do(t, http.MethodGet, "/api/v1/audit?action="+audit.ActionLogin+"&limit=10", admin.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	result := decode[audit.ListResult](t, rec)
	if result.Total != 2 || result.Limit != 10 {
		t.Errorf("result = %+v, want 2 logins with limit 10", result)
	}
	for _, l := range result.Logs {
		if l.Action != audit.ActionLogin || l.Source != audit.SourceAPI {
			t.Errorf("log = %+v", l)
		}
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/audit?limit=-1", admin.AccessToken, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit: status = %d, want 400", rec.Code)
	}
}

func TestListAudit_NotConfigured(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Audit = nil })
	admin := env.signup(t, "principal@school.edu")

	if rec := env.do(t, http.MethodGet, "/api/v1/audit", admin.AccessToken, nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
