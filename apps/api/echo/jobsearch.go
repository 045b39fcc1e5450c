package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/karani/core"
	"github.com/trezcool/karani/core/jobsearch"
	"github.com/trezcool/karani/core/labels"
	"github.com/trezcool/karani/core/user"
)

type (
	jobSearchActionRequest struct {
		Action      *jobsearch.Action `json:"action" validate:"required,min=0,max=3"`
		SchoolCheck bool              `json:"school_check"`
		Status      string            `json:"status"` // expected current status label, optional
	}

	applicationView struct {
		jobsearch.Application
		StatusLabel   string `json:"status_label"`
		CategoryLabel string `json:"category_label"`
	}

	jobSearchApi struct {
		svc      *jobsearch.Service
		labels   *labels.Catalog
		validate *validator.Validate
	}
)

func registerJobSearchAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *jobsearch.Service,
	catalog *labels.Catalog,
	validate *validator.Validate,
) {
	api := jobSearchApi{
		svc:      svc,
		labels:   catalog,
		validate: validate,
	}

	jg := g.Group("/job-searches", jwt)
	jg.POST("", api.create, roleMiddleware(user.RoleStudent))
	jg.GET("", api.query)
	jg.GET("/:id", api.retrieve)
	jg.DELETE("/:id", api.delete, roleMiddleware(user.RoleStudent))
	jg.POST("/:id/actions", api.apply, roleMiddleware(reviewerRoles()...))
	jg.POST("/:id/exam-report", api.examReport, roleMiddleware(user.RoleStudent))
	jg.POST("/:id/activity-report", api.activityReport, roleMiddleware(user.RoleStudent))
}

func (api *jobSearchApi) view(app jobsearch.Application) applicationView {
	return applicationView{
		Application:   app,
		StatusLabel:   api.labels.JobSearchStatus(app.Status),
		CategoryLabel: api.labels.EventCategory(app.Category),
	}
}

// object returns the application of the path, hidden from students it does not belong to.
func (api *jobSearchApi) object(ctx echo.Context) (jobsearch.Application, error) {
	id, err := pathID(ctx)
	if err != nil {
		return jobsearch.Application{}, err
	}
	studentID, err := studentScope(ctx)
	if err != nil {
		return jobsearch.Application{}, err
	}
	app, err := api.svc.Get(ctx.Request().Context(), id)
	if err != nil {
		return jobsearch.Application{}, errors.Wrap(err, "getting application")
	}
	if app.Status == jobsearch.StatusDeleted || (studentID != 0 && app.StudentID != studentID) {
		return jobsearch.Application{}, errHttpNotFound
	}
	return app, nil
}

func reviewerRoles() []string {
	roles := make([]string, 0, len(user.TeacherRoles)+len(user.StaffRoles))
	roles = append(roles, user.TeacherRoles...)
	return append(roles, user.StaffRoles...)
}

// respond writes the application's current state.
func (api *jobSearchApi) respond(ctx echo.Context, id int) error {
	app, err := api.svc.Get(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "getting application")
	}
	return ctx.JSON(http.StatusOK, api.view(app))
}

// stepErr keeps step errors unwrapped so that the error handler reports the status as written.
func stepErr(err error, msg string) error {
	if core.IsStepError(err) {
		return err
	}
	return errors.Wrap(err, msg)
}

// Handlers

func (api *jobSearchApi) create(ctx echo.Context) error {
	var data jobsearch.NewApplication
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewApplication")
	}
	uid, err := getContextUserID(ctx)
	if err != nil {
		return err
	}
	data.StudentID = uid
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	app, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating application")
	}
	return ctx.JSON(http.StatusCreated, api.view(app))
}

func (api *jobSearchApi) query(ctx echo.Context) error {
	studentID, err := studentScope(ctx)
	if err != nil {
		return err
	}
	filter := jobsearch.QueryFilter{StudentID: studentID}
	for _, label := range ctx.QueryParams()["status"] {
		s, err := api.labels.ParseJobSearchStatus(label)
		if err != nil {
			return err
		}
		filter.Statuses = append(filter.Statuses, s)
	}

	apps, err := api.svc.Dashboard(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying applications")
	}
	views := make([]applicationView, len(apps))
	for i, app := range apps {
		views[i] = api.view(app)
	}
	return ctx.JSON(http.StatusOK, views)
}

func (api *jobSearchApi) retrieve(ctx echo.Context) error {
	app, err := api.object(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, api.view(app))
}

func (api *jobSearchApi) apply(ctx echo.Context) error {
	app, err := api.object(ctx)
	if err != nil {
		return err
	}
	var data jobSearchActionRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to jobSearchActionRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}
	if *data.Action == jobsearch.ActionCourseStaffApprove && !contextHasAnyRole(ctx, []string{user.RoleStaffCourse}) {
		return errHttpForbidden
	}

	cmd := jobsearch.Command{
		JobSearchID:          app.ID,
		Action:               *data.Action,
		SchoolCheckRequested: data.SchoolCheck,
	}
	if data.Status != "" {
		s, err := api.labels.ParseJobSearchStatus(data.Status)
		if err != nil {
			return err
		}
		cmd.ExpectedStatus = &s
	}

	if err = api.svc.Apply(ctx.Request().Context(), cmd); err != nil {
		return stepErr(err, "applying action")
	}
	return api.respond(ctx, app.ID)
}

func (api *jobSearchApi) examReport(ctx echo.Context) error {
	app, err := api.object(ctx)
	if err != nil {
		return err
	}
	var data jobsearch.ExamReport
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ExamReport")
	}
	data.JobSearchID = app.ID
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	if err = api.svc.SubmitExamReport(ctx.Request().Context(), data); err != nil {
		return stepErr(err, "submitting exam report")
	}
	return api.respond(ctx, app.ID)
}

func (api *jobSearchApi) activityReport(ctx echo.Context) error {
	app, err := api.object(ctx)
	if err != nil {
		return err
	}
	var data jobsearch.ActivityReport
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ActivityReport")
	}
	data.JobSearchID = app.ID
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	if err = api.svc.SubmitActivityReport(ctx.Request().Context(), data); err != nil {
		return stepErr(err, "submitting activity report")
	}
	return api.respond(ctx, app.ID)
}

func (api *jobSearchApi) delete(ctx echo.Context) error {
	app, err := api.object(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), app.ID); err != nil {
		return stepErr(err, "deleting application")
	}
	return ctx.NoContent(http.StatusNoContent)
}
