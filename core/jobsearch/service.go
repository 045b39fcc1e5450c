// Package jobsearch drives students' job-search applications through teacher and course-staff
// approval, then the exam and activity reports.
package jobsearch

import (
	"context"
	"fmt"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/karani/core"
	"github.com/trezcool/karani/core/notification"
	"github.com/trezcool/karani/core/recipient"
)

var (
	// errors
	ErrNotFound          = errors.New("job-search application not found")
	ErrInvalidAction     = errors.New("invalid job-search action")
	ErrInvalidTransition = errors.New("action not allowed from the current status")
)

type (
	Repository interface {
		CreateApplication(ctx context.Context, app Application) (Application, error)
		// GetApplication returns deleted applications too.
		GetApplication(ctx context.Context, id int) (Application, error)
		// QueryApplications never returns deleted applications.
		QueryApplications(ctx context.Context, filter QueryFilter) ([]Application, error)
		// TransitionApplication writes `to` only if the stored status is `from`.
		// It returns core.ErrPrecondition when no row was updated.
		TransitionApplication(ctx context.Context, id int, from, to Status) error
		MarkRosterChecked(ctx context.Context, id int) error
		// UpsertExamReport returns true when the report was filed for the first time.
		UpsertExamReport(ctx context.Context, r ExamReport) (bool, error)
		UpsertActivityReport(ctx context.Context, r ActivityReport) (bool, error)
	}

	Notifier interface {
		Dispatch(ctx context.Context, notice notification.Notice) (notification.Notification, error)
		Broadcast(ctx context.Context, subject notification.Subject, recipientIDs []int, category notification.Category) error
		Retire(ctx context.Context, subject notification.Subject, recipientIDs ...int) (int, error)
		Clear(ctx context.Context, subject notification.Subject) error
	}

	StaffResolver interface {
		HomeroomTeacher(ctx context.Context, studentID int) (int, error)
		CourseStaff(ctx context.Context) ([]int, error)
	}

	Service struct {
		repo     Repository
		notifier Notifier
		resolver StaffResolver
		logger   core.Logger
		nowFunc  func() time.Time
	}
)

var (
	_ Notifier      = (*notification.Service)(nil)
	_ StaffResolver = (*recipient.Resolver)(nil)
)

func NewService(repo Repository, notifier Notifier, resolver StaffResolver, logger core.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		resolver: resolver,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

func (svc *Service) Create(ctx context.Context, na NewApplication) (Application, error) {
	now := svc.nowFunc().UTC()
	return svc.repo.CreateApplication(ctx, Application{
		StudentID:   na.StudentID,
		Status:      StatusPendingTeacherApproval,
		Category:    na.Category,
		CompanyName: na.CompanyName,
		StartsAt:    na.StartsAt.UTC(),
		EndsAt:      na.EndsAt.UTC(),
		Location:    na.Location,
		Remarks:     na.Remarks,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (svc *Service) Get(ctx context.Context, id int) (Application, error) {
	if err := vala.BeginValidation().Validate(vala.GreaterThan(id, 0, "id")).Check(); err != nil {
		return Application{}, errors.Wrap(core.ErrInvalidArgument, err.Error())
	}
	return svc.repo.GetApplication(ctx, id)
}

// Dashboard lists the applications matching filter, deleted ones excluded.
func (svc *Service) Dashboard(ctx context.Context, filter QueryFilter) ([]Application, error) {
	apps, err := svc.repo.QueryApplications(ctx, filter)
	return apps, errors.Wrap(err, "querying applications")
}

// step is one outcome of the transition table: the next status and who to tell.
type step struct {
	to     Status
	notify func(ctx context.Context, app Application, teacher int) error
}

// Apply performs cmd and notifies whoever must act next.
// The first failing sub-step aborts; sub-steps already written are kept.
func (svc *Service) Apply(ctx context.Context, cmd Command) (err error) {
	defer core.RecoverAsError(svc.logger, "jobsearch.Apply", &err)

	if cmd.Action < ActionApprove || cmd.Action > ActionCourseStaffApprove {
		return errors.Wrapf(ErrInvalidAction, "code %d", cmd.Action)
	}
	app, err := svc.Get(ctx, cmd.JobSearchID)
	if err != nil {
		return errors.Wrap(err, "getting application")
	}
	if cmd.ExpectedStatus != nil && *cmd.ExpectedStatus != app.Status {
		return errors.Wrapf(core.ErrPrecondition, "application %d is at %d, not %d", app.ID, app.Status, *cmd.ExpectedStatus)
	}
	teacher, err := svc.resolver.HomeroomTeacher(ctx, app.StudentID)
	if err != nil {
		return errors.Wrap(err, "resolving homeroom teacher")
	}

	if cmd.Action == ActionApprove && app.Status == StatusPendingTeacherApproval {
		return svc.teacherApprove(ctx, app, teacher, cmd.SchoolCheckRequested)
	}
	if cmd.Action == ActionApprove && app.Status == StatusPendingReportApproval {
		if err := svc.transition(ctx, app, StatusComplete); err != nil {
			return err
		}
		if err := svc.notifier.Clear(ctx, notification.JobSearch(app.ID)); err != nil {
			return svc.stepFailed("clear notifications", app.ID, err)
		}
		return nil
	}

	st, err := svc.next(app, cmd.Action)
	if err != nil {
		return err
	}
	if err := svc.transition(ctx, app, st.to); err != nil {
		return err
	}
	if app.Status == StatusPendingCourseStaffApproval {
		// whichever way it leaves, the course staff have nothing left to approve
		if err := svc.retireCourseStaff(ctx, app); err != nil {
			return err
		}
	}
	return st.notify(ctx, app, teacher)
}

func (svc *Service) next(app Application, action Action) (step, error) {
	briefing := app.Category == EventBriefing

	switch action {
	case ActionApprove:
		switch app.Status {
		case StatusApplicationReturned:
			if briefing {
				return step{to: StatusPendingCourseStaffApproval, notify: svc.toCourseStaff(notification.CategoryApproval)}, nil
			}
			return step{to: StatusPendingTeacherApproval, notify: svc.toTeacher(notification.CategoryApproval)}, nil
		case StatusPendingExamApproval:
			return step{to: StatusPendingActivityReport, notify: svc.toStudent(notification.CategoryActivityReport)}, nil
		}
	case ActionWithdraw, ActionReturn:
		var to Status
		switch app.Status {
		case StatusPendingTeacherApproval, StatusPendingCourseStaffApproval:
			to = StatusApplicationReturned
		case StatusPendingExamApproval:
			to = StatusExamReportReturned
		case StatusPendingReportApproval:
			to = StatusReportReturned
		case StatusComplete:
			if action == ActionWithdraw {
				to = StatusReportReturned
			}
		}
		if to != 0 {
			return step{to: to, notify: svc.toStudent(notification.CategoryReturned)}, nil
		}
	case ActionCourseStaffApprove:
		if app.Status == StatusPendingCourseStaffApproval {
			if briefing {
				return step{to: StatusPendingActivityReport, notify: svc.toStudent(notification.CategoryActivityReport)}, nil
			}
			return step{to: StatusPendingExamReport, notify: svc.toStudent(notification.CategoryExamReport)}, nil
		}
	}
	return step{}, errors.Wrapf(ErrInvalidTransition, "action %d from status %d", action, app.Status)
}

func (svc *Service) teacherApprove(ctx context.Context, app Application, teacher int, schoolCheck bool) error {
	if schoolCheck {
		if err := svc.repo.MarkRosterChecked(ctx, app.ID); err != nil {
			return errors.Wrap(err, "marking roster checked")
		}
		app.RosterChecked = true
	}
	if err := svc.transition(ctx, app, StatusPendingCourseStaffApproval); err != nil {
		return err
	}
	if err := svc.toTeacher(notification.CategoryApproval)(ctx, app, teacher); err != nil {
		return err
	}
	if app.RosterChecked {
		// explicit first notice: supersedes the approval one with a fresh notification
		_, err := svc.notifier.Dispatch(ctx, notification.Notice{
			Subject:     notification.JobSearch(app.ID),
			RecipientID: teacher,
			Category:    notification.CategoryRosterChecked,
			First:       true,
		})
		if err != nil {
			return svc.stepFailed("notify teacher of roster check", app.ID, err)
		}
	}
	return nil
}

// AdvanceOnExamReport moves an application still pending teacher approval to the exam-report
// stage; it is called when its exam report is first filed. Other statuses are left alone.
func (svc *Service) AdvanceOnExamReport(ctx context.Context, id int) error {
	app, err := svc.Get(ctx, id)
	if err != nil {
		return errors.Wrap(err, "reading status")
	}
	if app.Status != StatusPendingTeacherApproval {
		return nil
	}
	return svc.transition(ctx, app, StatusPendingExamReport)
}

// SubmitExamReport files (or amends) the exam report and asks the homeroom teacher to approve it.
func (svc *Service) SubmitExamReport(ctx context.Context, r ExamReport) (err error) {
	defer core.RecoverAsError(svc.logger, "jobsearch.SubmitExamReport", &err)

	app, err := svc.Get(ctx, r.JobSearchID)
	if err != nil {
		return errors.Wrap(err, "getting application")
	}
	if app.Status == StatusDeleted {
		return errors.Wrapf(ErrInvalidTransition, "application %d is deleted", app.ID)
	}
	teacher, err := svc.resolver.HomeroomTeacher(ctx, app.StudentID)
	if err != nil {
		return errors.Wrap(err, "resolving homeroom teacher")
	}

	r.SubmittedAt = svc.nowFunc().UTC()
	first, err := svc.repo.UpsertExamReport(ctx, r)
	if err != nil {
		return errors.Wrap(err, "saving exam report")
	}
	if first {
		if err := svc.AdvanceOnExamReport(ctx, app.ID); err != nil {
			return err
		}
		if app, err = svc.Get(ctx, app.ID); err != nil {
			return errors.Wrap(err, "getting application")
		}
	}

	switch app.Status {
	case StatusPendingExamReport, StatusExamReportReturned:
	default:
		return nil // amended in place, nothing to approve anew
	}
	if err := svc.transition(ctx, app, StatusPendingExamApproval); err != nil {
		return err
	}
	return svc.toTeacher(notification.CategoryExamApproval)(ctx, app, teacher)
}

// SubmitActivityReport files (or amends) the activity report and asks the homeroom teacher to approve it.
func (svc *Service) SubmitActivityReport(ctx context.Context, r ActivityReport) (err error) {
	defer core.RecoverAsError(svc.logger, "jobsearch.SubmitActivityReport", &err)

	app, err := svc.Get(ctx, r.JobSearchID)
	if err != nil {
		return errors.Wrap(err, "getting application")
	}
	switch app.Status {
	case StatusPendingActivityReport, StatusReportReturned, StatusPendingReportApproval:
	default:
		return errors.Wrapf(ErrInvalidTransition, "no activity report expected at status %d", app.Status)
	}
	teacher, err := svc.resolver.HomeroomTeacher(ctx, app.StudentID)
	if err != nil {
		return errors.Wrap(err, "resolving homeroom teacher")
	}

	r.SubmittedAt = svc.nowFunc().UTC()
	if _, err := svc.repo.UpsertActivityReport(ctx, r); err != nil {
		return errors.Wrap(err, "saving activity report")
	}
	if app.Status == StatusPendingReportApproval {
		return nil
	}
	if err := svc.transition(ctx, app, StatusPendingReportApproval); err != nil {
		return err
	}
	return svc.toTeacher(notification.CategoryReportApproval)(ctx, app, teacher)
}

// Delete soft-deletes an application that has not been approved yet, with its notifications.
func (svc *Service) Delete(ctx context.Context, id int) (err error) {
	defer core.RecoverAsError(svc.logger, "jobsearch.Delete", &err)

	app, err := svc.Get(ctx, id)
	if err != nil {
		return errors.Wrap(err, "getting application")
	}
	switch app.Status {
	case StatusPendingTeacherApproval, StatusApplicationReturned:
	default:
		return errors.Wrapf(ErrInvalidTransition, "cannot delete application at status %d", app.Status)
	}
	if err := svc.transition(ctx, app, StatusDeleted); err != nil {
		return err
	}
	if err := svc.notifier.Clear(ctx, notification.JobSearch(app.ID)); err != nil {
		return svc.stepFailed("clear notifications", app.ID, err)
	}
	return nil
}

func (svc *Service) transition(ctx context.Context, app Application, to Status) error {
	err := svc.repo.TransitionApplication(ctx, app.ID, app.Status, to)
	return errors.Wrapf(err, "moving application %d from %d to %d", app.ID, app.Status, to)
}

func (svc *Service) toTeacher(category notification.Category) func(context.Context, Application, int) error {
	return func(ctx context.Context, app Application, teacher int) error {
		return svc.notify(ctx, "notify teacher", app.ID, teacher, category)
	}
}

func (svc *Service) toStudent(category notification.Category) func(context.Context, Application, int) error {
	return func(ctx context.Context, app Application, _ int) error {
		return svc.notify(ctx, "notify student", app.ID, app.StudentID, category)
	}
}

func (svc *Service) toCourseStaff(category notification.Category) func(context.Context, Application, int) error {
	return func(ctx context.Context, app Application, _ int) error {
		staff, err := svc.resolver.CourseStaff(ctx)
		if err != nil {
			return svc.stepFailed("resolve course staff", app.ID, err)
		}
		if err := svc.notifier.Broadcast(ctx, notification.JobSearch(app.ID), staff, category); err != nil {
			return svc.stepFailed("broadcast to course staff", app.ID, err)
		}
		return nil
	}
}

func (svc *Service) retireCourseStaff(ctx context.Context, app Application) error {
	staff, err := svc.resolver.CourseStaff(ctx)
	if err != nil {
		return svc.stepFailed("resolve course staff", app.ID, err)
	}
	if _, err := svc.notifier.Retire(ctx, notification.JobSearch(app.ID), staff...); err != nil {
		return svc.stepFailed("retire course staff notices", app.ID, err)
	}
	return nil
}

func (svc *Service) notify(ctx context.Context, stepName string, appID, recipientID int, category notification.Category) error {
	_, err := svc.notifier.Dispatch(ctx, notification.Notice{
		Subject:     notification.JobSearch(appID),
		RecipientID: recipientID,
		Category:    category,
	})
	if err != nil {
		return svc.stepFailed(stepName, appID, err)
	}
	return nil
}

func (svc *Service) stepFailed(stepName string, appID int, err error) error {
	stepErr := core.NewStepError(stepName, err)
	svc.logger.Error(fmt.Sprintf("job search %d: %s failed after status write", appID, stepName), stepErr, notification.JobSearch(appID))
	return stepErr
}
