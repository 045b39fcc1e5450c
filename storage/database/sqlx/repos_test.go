package sqlxrepos

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/trezcool/karani/core"
	"github.com/trezcool/karani/core/jobsearch"
	"github.com/trezcool/karani/core/user"
)

// schema mirrors the postgres migrations in sqlite's dialect.
const schema = `
CREATE TABLE users (
    id                  INTEGER PRIMARY KEY,
    name                TEXT NOT NULL DEFAULT '',
    username            TEXT UNIQUE,
    email               TEXT UNIQUE,
    is_active           BOOLEAN NOT NULL DEFAULT TRUE,
    password_hash       BLOB,
    homeroom_teacher_id INTEGER,
    created_at          TIMESTAMP NOT NULL,
    updated_at          TIMESTAMP NOT NULL,
    last_login          TIMESTAMP
);
CREATE TABLE user_role (
    user_id INTEGER NOT NULL,
    role    TEXT    NOT NULL,
    PRIMARY KEY (user_id, role)
);
CREATE TABLE job_search (
    id             INTEGER PRIMARY KEY,
    student_id     INTEGER   NOT NULL,
    status         INTEGER   NOT NULL DEFAULT 11,
    category       INTEGER   NOT NULL,
    company_name   TEXT      NOT NULL,
    starts_at      TIMESTAMP NOT NULL,
    ends_at        TIMESTAMP NOT NULL,
    location       TEXT      NOT NULL DEFAULT '',
    attended       BOOLEAN   NOT NULL DEFAULT FALSE,
    roster_checked BOOLEAN   NOT NULL DEFAULT FALSE,
    remarks        TEXT      NOT NULL DEFAULT '',
    created_at     TIMESTAMP NOT NULL,
    updated_at     TIMESTAMP NOT NULL
);
CREATE TABLE exam_report (
    job_search_id INTEGER PRIMARY KEY,
    exam_kinds    TEXT      NOT NULL,
    content       TEXT      NOT NULL,
    submitted_at  TIMESTAMP NOT NULL
);
CREATE TABLE activity_report (
    job_search_id INTEGER PRIMARY KEY,
    impressions   TEXT      NOT NULL,
    submitted_at  TIMESTAMP NOT NULL
);`

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1) // every connection gets its own in-memory database
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(schema)
	require.NoError(t, err)
	return db
}

func createUser(t *testing.T, repo *userRepository, uname string, active bool, roles ...string) user.User {
	t.Helper()
	now := time.Now().UTC()
	usr, err := repo.CreateUser(context.Background(), user.User{
		Name:      uname,
		Username:  uname,
		Email:     uname + "@karani.test",
		IsActive:  active,
		Roles:     roles,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)
	return usr
}

func TestUserRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))
	created := createUser(t, repo, "sato", true, user.RoleTeacher, user.RoleTeacherHomeroom)

	tests := []struct {
		name    string
		filter  user.GetFilter
		wantErr error
	}{
		{name: "by id", filter: user.GetFilter{ID: created.ID}},
		{name: "by username", filter: user.GetFilter{UsernameOrEmail: []string{"sato"}}},
		{name: "by email", filter: user.GetFilter{UsernameOrEmail: []string{"nobody", "sato@karani.test"}}},
		{name: "missing id", filter: user.GetFilter{ID: 999}, wantErr: user.ErrNotFound},
		{name: "missing username", filter: user.GetFilter{UsernameOrEmail: []string{"kato"}}, wantErr: user.ErrNotFound},
		{name: "empty filter", filter: user.GetFilter{}, wantErr: user.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usr, err := repo.GetUser(ctx, tt.filter)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, created.ID, usr.ID)
			assert.Equal(t, "sato", usr.Username)
			assert.ElementsMatch(t, []string{user.RoleTeacher, user.RoleTeacherHomeroom}, usr.Roles)
			assert.True(t, usr.IsActive)
		})
	}
}

func TestUserRepository_CheckUsernameUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))
	sato := createUser(t, repo, "sato", true)

	tests := []struct {
		name     string
		username string
		email    string
		excluded []user.User
		wantErr  error
	}{
		{name: "free", username: "kato", email: "kato@karani.test"},
		{name: "username taken", username: "sato", email: "other@karani.test", wantErr: user.ErrUsernameExists},
		{name: "email taken", username: "kato", email: "sato@karani.test", wantErr: user.ErrEmailExists},
		{name: "excluded self", username: "sato", email: "sato@karani.test", excluded: []user.User{sato}},
		{name: "nothing to check"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.CheckUsernameUniqueness(ctx, tt.username, tt.email, tt.excluded...)
			assert.Equal(t, tt.wantErr, err)
		})
	}
}

func TestUserRepository_UpdateUser(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))
	usr := createUser(t, repo, "sato", true, user.RoleTeacher)

	usr.Name = "Sato Ken"
	usr.Roles = []string{user.RoleStaffOffice}
	usr.LastLogin = time.Now().UTC()
	_, err := repo.UpdateUser(ctx, usr)
	require.NoError(t, err)

	got, err := repo.GetUser(ctx, user.GetFilter{ID: usr.ID})
	require.NoError(t, err)
	assert.Equal(t, "Sato Ken", got.Name)
	assert.Equal(t, []string{user.RoleStaffOffice}, got.Roles)
	assert.False(t, got.LastLogin.IsZero())

	_, err = repo.UpdateUser(ctx, user.User{ID: 999})
	assert.Equal(t, user.ErrNotFound, err)
}

func TestUserRepository_QueryUserIDsByRole(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))
	a := createUser(t, repo, "office1", true, user.RoleStaffOffice)
	createUser(t, repo, "office2", false, user.RoleStaffOffice)
	c := createUser(t, repo, "office3", true, user.RoleStaff, user.RoleStaffOffice)
	createUser(t, repo, "course1", true, user.RoleStaffCourse)

	ids, err := repo.QueryUserIDsByRole(ctx, user.RoleStaffOffice)
	require.NoError(t, err)
	assert.Equal(t, []int{a.ID, c.ID}, ids)

	ids, err = repo.QueryUserIDsByRole(ctx, user.RoleAdminOwner)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestUserRepository_Homeroom(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))
	student := createUser(t, repo, "student", true, user.RoleStudent)
	teacher := createUser(t, repo, "teacher", true, user.RoleTeacherHomeroom)

	_, err := repo.GetHomeroomTeacherID(ctx, student.ID)
	assert.Equal(t, user.ErrNotFound, err)
	_, err = repo.GetHomeroomTeacherID(ctx, 999)
	assert.Equal(t, user.ErrNotFound, err)

	require.NoError(t, repo.SetHomeroomTeacher(ctx, student.ID, teacher.ID))
	id, err := repo.GetHomeroomTeacherID(ctx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, teacher.ID, id)

	assert.Equal(t, user.ErrNotFound, repo.SetHomeroomTeacher(ctx, 999, teacher.ID))
}

func createApplication(t *testing.T, repo *jobSearchRepository, studentID int, status jobsearch.Status) jobsearch.Application {
	t.Helper()
	now := time.Now().UTC()
	app, err := repo.CreateApplication(context.Background(), jobsearch.Application{
		StudentID:   studentID,
		Status:      status,
		Category:    jobsearch.EventExam,
		CompanyName: "Karani Shoji",
		StartsAt:    now.Add(24 * time.Hour),
		EndsAt:      now.Add(26 * time.Hour),
		Location:    "Osaka",
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	require.NoError(t, err)
	return app
}

func TestJobSearchRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewJobSearchRepository(openTestDB(t))
	created := createApplication(t, repo, 4, jobsearch.StatusPendingTeacherApproval)

	app, err := repo.GetApplication(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, jobsearch.StatusPendingTeacherApproval, app.Status)
	assert.Equal(t, jobsearch.EventExam, app.Category)
	assert.Equal(t, "Karani Shoji", app.CompanyName)
	assert.True(t, created.StartsAt.Equal(app.StartsAt))
	assert.False(t, app.RosterChecked)

	_, err = repo.GetApplication(ctx, 999)
	assert.Equal(t, jobsearch.ErrNotFound, err)
}

func TestJobSearchRepository_QueryApplications(t *testing.T) {
	ctx := context.Background()
	repo := NewJobSearchRepository(openTestDB(t))
	a := createApplication(t, repo, 4, jobsearch.StatusPendingTeacherApproval)
	b := createApplication(t, repo, 4, jobsearch.StatusPendingExamReport)
	c := createApplication(t, repo, 5, jobsearch.StatusPendingTeacherApproval)
	createApplication(t, repo, 4, jobsearch.StatusDeleted)

	ids := func(apps []jobsearch.Application) []int {
		out := make([]int, len(apps))
		for i, app := range apps {
			out[i] = app.ID
		}
		return out
	}

	tests := []struct {
		name   string
		filter jobsearch.QueryFilter
		want   []int
	}{
		{name: "all but deleted", want: []int{a.ID, b.ID, c.ID}},
		{name: "by student", filter: jobsearch.QueryFilter{StudentID: 4}, want: []int{a.ID, b.ID}},
		{
			name:   "by status",
			filter: jobsearch.QueryFilter{Statuses: []jobsearch.Status{jobsearch.StatusPendingTeacherApproval}},
			want:   []int{a.ID, c.ID},
		},
		{
			name:   "deleted never listed",
			filter: jobsearch.QueryFilter{Statuses: []jobsearch.Status{jobsearch.StatusDeleted}},
			want:   []int{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apps, err := repo.QueryApplications(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(apps))
		})
	}
}

func TestJobSearchRepository_TransitionApplication(t *testing.T) {
	ctx := context.Background()
	repo := NewJobSearchRepository(openTestDB(t))
	app := createApplication(t, repo, 4, jobsearch.StatusPendingTeacherApproval)

	require.NoError(t, repo.TransitionApplication(ctx, app.ID, jobsearch.StatusPendingTeacherApproval, jobsearch.StatusPendingCourseStaffApproval))

	// stale `from`
	err := repo.TransitionApplication(ctx, app.ID, jobsearch.StatusPendingTeacherApproval, jobsearch.StatusApplicationReturned)
	assert.Equal(t, core.ErrPrecondition, errors.Cause(err))

	got, err := repo.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, jobsearch.StatusPendingCourseStaffApproval, got.Status)

	require.NoError(t, repo.MarkRosterChecked(ctx, app.ID))
	got, err = repo.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.True(t, got.RosterChecked)
	assert.Equal(t, jobsearch.ErrNotFound, repo.MarkRosterChecked(ctx, 999))
}

func TestJobSearchRepository_UpsertReports(t *testing.T) {
	ctx := context.Background()
	repo := NewJobSearchRepository(openTestDB(t))
	app := createApplication(t, repo, 4, jobsearch.StatusPendingExamReport)
	now := time.Now().UTC()

	exam := jobsearch.ExamReport{JobSearchID: app.ID, ExamKinds: "SPI", Content: "aptitude test", SubmittedAt: now}
	first, err := repo.UpsertExamReport(ctx, exam)
	require.NoError(t, err)
	assert.True(t, first)

	exam.Content = "aptitude test, interview"
	first, err = repo.UpsertExamReport(ctx, exam)
	require.NoError(t, err)
	assert.False(t, first)

	var content string
	require.NoError(t, repo.db.Get(&content, "SELECT content FROM exam_report WHERE job_search_id = ?", app.ID))
	assert.Equal(t, "aptitude test, interview", content)

	activity := jobsearch.ActivityReport{JobSearchID: app.ID, Impressions: "friendly staff", SubmittedAt: now}
	first, err = repo.UpsertActivityReport(ctx, activity)
	require.NoError(t, err)
	assert.True(t, first)

	_, err = repo.UpsertExamReport(ctx, jobsearch.ExamReport{JobSearchID: 999, ExamKinds: "SPI", Content: "x", SubmittedAt: now})
	assert.Equal(t, jobsearch.ErrNotFound, err)
}
