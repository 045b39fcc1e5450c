package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/karani/core"
	"github.com/trezcool/karani/core/jobsearch"
)

var applicationOrdering = []core.DBOrdering{{Field: "starts_at", Ascending: true}, {Field: "id", Ascending: true}}

const applicationColumns = `id, student_id, status, category, company_name, starts_at, ends_at, location,
	attended, roster_checked, remarks, created_at, updated_at`

type applicationRow struct {
	ID            int       `db:"id"`
	StudentID     int       `db:"student_id"`
	Status        int       `db:"status"`
	Category      int       `db:"category"`
	CompanyName   string    `db:"company_name"`
	StartsAt      time.Time `db:"starts_at"`
	EndsAt        time.Time `db:"ends_at"`
	Location      string    `db:"location"`
	Attended      bool      `db:"attended"`
	RosterChecked bool      `db:"roster_checked"`
	Remarks       string    `db:"remarks"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r applicationRow) application() jobsearch.Application {
	return jobsearch.Application{
		ID:            r.ID,
		StudentID:     r.StudentID,
		Status:        jobsearch.Status(r.Status),
		Category:      jobsearch.EventCategory(r.Category),
		CompanyName:   r.CompanyName,
		StartsAt:      r.StartsAt,
		EndsAt:        r.EndsAt,
		Location:      r.Location,
		Attended:      r.Attended,
		RosterChecked: r.RosterChecked,
		Remarks:       r.Remarks,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type jobSearchRepository struct {
	db *sqlx.DB
}

var _ jobsearch.Repository = (*jobSearchRepository)(nil) // interface compliance check

func NewJobSearchRepository(db *sqlx.DB) *jobSearchRepository {
	return &jobSearchRepository{db: db}
}

func (repo jobSearchRepository) CreateApplication(ctx context.Context, app jobsearch.Application) (jobsearch.Application, error) {
	err := repo.db.GetContext(ctx, &app.ID, repo.db.Rebind(`
		INSERT INTO job_search (student_id, status, category, company_name, starts_at, ends_at, location,
			attended, roster_checked, remarks, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		app.StudentID, int(app.Status), int(app.Category), app.CompanyName, app.StartsAt.UTC(), app.EndsAt.UTC(),
		app.Location, app.Attended, app.RosterChecked, app.Remarks, app.CreatedAt.UTC(), app.UpdatedAt.UTC(),
	)
	if err != nil {
		return jobsearch.Application{}, errors.Wrap(err, "inserting application")
	}
	return app, nil
}

func (repo jobSearchRepository) GetApplication(ctx context.Context, id int) (jobsearch.Application, error) {
	var r applicationRow
	err := repo.db.GetContext(ctx, &r, repo.db.Rebind("SELECT "+applicationColumns+" FROM job_search WHERE id = ?"), id)
	if err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return jobsearch.Application{}, jobsearch.ErrNotFound
		}
		return jobsearch.Application{}, errors.Wrap(err, "finding application")
	}
	return r.application(), nil
}

func (repo jobSearchRepository) QueryApplications(ctx context.Context, filter jobsearch.QueryFilter) ([]jobsearch.Application, error) {
	where := []string{"status <> ?"}
	args := []interface{}{int(jobsearch.StatusDeleted)}
	if filter.StudentID != 0 {
		where = append(where, "student_id = ?")
		args = append(args, filter.StudentID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]int, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = int(s)
		}
		where = append(where, "status IN (?)")
		args = append(args, statuses)
	}

	q, args, err := sqlx.In("SELECT "+applicationColumns+" FROM job_search WHERE "+strings.Join(where, " AND ")+" ORDER BY "+orderBy(applicationOrdering), args...)
	if err != nil {
		return nil, errors.Wrap(err, "expanding query")
	}
	var rows []applicationRow
	if err = repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying applications")
	}
	apps := make([]jobsearch.Application, 0, len(rows))
	for _, r := range rows {
		apps = append(apps, r.application())
	}
	return apps, nil
}

func (repo jobSearchRepository) TransitionApplication(ctx context.Context, id int, from, to jobsearch.Status) error {
	res, err := repo.db.ExecContext(ctx,
		repo.db.Rebind("UPDATE job_search SET status = ?, updated_at = ? WHERE id = ? AND status = ?"),
		int(to), time.Now().UTC(), id, int(from),
	)
	if err != nil {
		return errors.Wrap(err, "updating application status")
	}
	return checkAffected(res, "application %d is not at status %d", id, from)
}

func (repo jobSearchRepository) MarkRosterChecked(ctx context.Context, id int) error {
	res, err := repo.db.ExecContext(ctx,
		repo.db.Rebind("UPDATE job_search SET roster_checked = ?, updated_at = ? WHERE id = ?"),
		true, time.Now().UTC(), id,
	)
	if err != nil {
		return errors.Wrap(err, "marking roster checked")
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return jobsearch.ErrNotFound
	}
	return nil
}

// upsert reports whether table had no row for jobSearchID before running q.
func (repo jobSearchRepository) upsert(ctx context.Context, table string, jobSearchID int, q string, args ...interface{}) (bool, error) {
	var first bool
	err := transact(ctx, repo.db, func(tx *sqlx.Tx) error {
		var found int
		err := tx.GetContext(ctx, &found, tx.Rebind("SELECT COUNT(*) FROM job_search WHERE id = ?"), jobSearchID)
		if err != nil {
			return errors.Wrap(err, "finding application")
		}
		if found == 0 {
			return jobsearch.ErrNotFound
		}

		var existing int
		err = tx.GetContext(ctx, &existing, tx.Rebind("SELECT COUNT(*) FROM "+table+" WHERE job_search_id = ?"), jobSearchID)
		if err != nil {
			return errors.Wrapf(err, "finding %s", table)
		}
		first = existing == 0

		if _, err = tx.ExecContext(ctx, tx.Rebind(q), args...); err != nil {
			return errors.Wrapf(err, "upserting %s", table)
		}
		return nil
	})
	return first, err
}

func (repo jobSearchRepository) UpsertExamReport(ctx context.Context, r jobsearch.ExamReport) (bool, error) {
	return repo.upsert(ctx, "exam_report", r.JobSearchID, `
		INSERT INTO exam_report (job_search_id, exam_kinds, content, submitted_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (job_search_id) DO UPDATE
		SET exam_kinds = excluded.exam_kinds, content = excluded.content, submitted_at = excluded.submitted_at`,
		r.JobSearchID, r.ExamKinds, r.Content, r.SubmittedAt.UTC(),
	)
}

func (repo jobSearchRepository) UpsertActivityReport(ctx context.Context, r jobsearch.ActivityReport) (bool, error) {
	return repo.upsert(ctx, "activity_report", r.JobSearchID, `
		INSERT INTO activity_report (job_search_id, impressions, submitted_at) VALUES (?, ?, ?)
		ON CONFLICT (job_search_id) DO UPDATE
		SET impressions = excluded.impressions, submitted_at = excluded.submitted_at`,
		r.JobSearchID, r.Impressions, r.SubmittedAt.UTC(),
	)
}

func orderBy(ords []core.DBOrdering) string {
	parts := make([]string, len(ords))
	for i, ord := range ords {
		parts[i] = ord.String()
	}
	return strings.Join(parts, ", ")
}
