package inmemdb

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/trezcool/karani/core"
	"github.com/trezcool/karani/core/jobsearch"
)

type jobSearchRepository struct {
	db *jobSearchTable
}

var _ jobsearch.Repository = (*jobSearchRepository)(nil) // interface compliance check

func NewJobSearchRepository(db *DB) *jobSearchRepository {
	return &jobSearchRepository{db: db.jobSearch}
}

func (repo *jobSearchRepository) CreateApplication(_ context.Context, app jobsearch.Application) (jobsearch.Application, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.pk++
	app.ID = repo.db.pk
	repo.db.table[app.ID] = &app
	return app, nil
}

func (repo *jobSearchRepository) GetApplication(_ context.Context, id int) (jobsearch.Application, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	app, ok := repo.db.table[id]
	if !ok {
		return jobsearch.Application{}, jobsearch.ErrNotFound
	}
	return *app, nil
}

func (repo *jobSearchRepository) QueryApplications(_ context.Context, filter jobsearch.QueryFilter) ([]jobsearch.Application, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	statuses := make(map[jobsearch.Status]bool, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses[s] = true
	}

	apps := make([]jobsearch.Application, 0)
	for _, app := range repo.db.table {
		if app.Status == jobsearch.StatusDeleted {
			continue
		}
		if filter.StudentID != 0 && app.StudentID != filter.StudentID {
			continue
		}
		if len(statuses) > 0 && !statuses[app.Status] {
			continue
		}
		apps = append(apps, *app)
	}
	sort.Slice(apps, func(i, j int) bool {
		if !apps[i].StartsAt.Equal(apps[j].StartsAt) {
			return apps[i].StartsAt.Before(apps[j].StartsAt)
		}
		return apps[i].ID < apps[j].ID
	})
	return apps, nil
}

func (repo *jobSearchRepository) TransitionApplication(_ context.Context, id int, from, to jobsearch.Status) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	app, ok := repo.db.table[id]
	if !ok || app.Status != from {
		return errors.Wrapf(core.ErrPrecondition, "application %d is not at status %d", id, from)
	}
	app.Status = to
	return nil
}

func (repo *jobSearchRepository) MarkRosterChecked(_ context.Context, id int) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	app, ok := repo.db.table[id]
	if !ok {
		return jobsearch.ErrNotFound
	}
	app.RosterChecked = true
	return nil
}

func (repo *jobSearchRepository) UpsertExamReport(_ context.Context, r jobsearch.ExamReport) (bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.table[r.JobSearchID]; !ok {
		return false, jobsearch.ErrNotFound
	}
	_, exists := repo.db.exams[r.JobSearchID]
	repo.db.exams[r.JobSearchID] = r
	return !exists, nil
}

func (repo *jobSearchRepository) UpsertActivityReport(_ context.Context, r jobsearch.ActivityReport) (bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.table[r.JobSearchID]; !ok {
		return false, jobsearch.ErrNotFound
	}
	_, exists := repo.db.activities[r.JobSearchID]
	repo.db.activities[r.JobSearchID] = r
	return !exists, nil
}
