package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/karani/core/certificate"
	"github.com/trezcool/karani/core/labels"
	"github.com/trezcool/karani/core/user"
)

type (
	certificateActionRequest struct {
		Action certificate.Action `json:"action" validate:"required,min=1,max=6"`
	}

	issuanceView struct {
		certificate.Issuance
		StatusLabel string `json:"status_label"`
		MediaLabel  string `json:"media_label"`
	}

	summaryView struct {
		issuanceView
		Totals certificate.Totals `json:"totals"`
	}

	certificateApi struct {
		svc      *certificate.Service
		labels   *labels.Catalog
		validate *validator.Validate
	}
)

// actionRoles restricts who may apply an action; actions missing here are open to every role.
var actionRoles = map[certificate.Action][]string{
	certificate.ActionApprove:  user.TeacherRoles,
	certificate.ActionReceipt:  {user.RoleStaffOffice},
	certificate.ActionIssue:    {user.RoleStaffOffice},
	certificate.ActionSend:     {user.RoleStaffOffice},
	certificate.ActionComplete: {user.RoleStaffOffice},
}

func registerCertificateAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *certificate.Service,
	catalog *labels.Catalog,
	validate *validator.Validate,
) {
	api := certificateApi{
		svc:      svc,
		labels:   catalog,
		validate: validate,
	}

	cg := g.Group("/certificates", jwt)
	cg.POST("", api.create, roleMiddleware(user.RoleStudent))
	cg.GET("", api.query)
	cg.GET("/:id", api.retrieve)
	cg.GET("/:id/fee", api.fee)
	cg.POST("/:id/actions", api.apply)
	cg.POST("/:id/renotify", api.renotify, roleMiddleware(reviewerRoles()...))
}

func (api *certificateApi) view(iss certificate.Issuance) issuanceView {
	return issuanceView{
		Issuance:    iss,
		StatusLabel: api.labels.CertificateStatus(iss.Status),
		MediaLabel:  api.labels.Media(iss.Media),
	}
}

// pathID parses the `:id` path param.
func pathID(ctx echo.Context) (int, error) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil || id <= 0 {
		return 0, errHttpNotFound
	}
	return id, nil
}

// studentScope returns the caller's ID when they act as a student, 0 otherwise.
// Students only ever see their own requests.
func studentScope(ctx echo.Context) (int, error) {
	uid, err := getContextUserID(ctx)
	if err != nil {
		return 0, err
	}
	if contextHasAnyRole(ctx, []string{user.RoleStudent}) {
		return uid, nil
	}
	return 0, nil
}

// object returns the issuance of the path, hidden from students it does not belong to.
func (api *certificateApi) object(ctx echo.Context) (certificate.Issuance, error) {
	id, err := pathID(ctx)
	if err != nil {
		return certificate.Issuance{}, err
	}
	studentID, err := studentScope(ctx)
	if err != nil {
		return certificate.Issuance{}, err
	}
	iss, err := api.svc.Get(ctx.Request().Context(), id)
	if err != nil {
		return certificate.Issuance{}, errors.Wrap(err, "getting issuance")
	}
	if studentID != 0 && iss.StudentID != studentID {
		return certificate.Issuance{}, errHttpNotFound
	}
	return iss, nil
}

// Handlers

func (api *certificateApi) create(ctx echo.Context) error {
	var data certificate.NewIssuance
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewIssuance")
	}
	uid, err := getContextUserID(ctx)
	if err != nil {
		return err
	}
	data.StudentID = uid
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	iss, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating issuance")
	}
	return ctx.JSON(http.StatusCreated, api.view(iss))
}

func (api *certificateApi) query(ctx echo.Context) error {
	studentID, err := studentScope(ctx)
	if err != nil {
		return err
	}
	filter := certificate.QueryFilter{StudentID: studentID}
	for _, label := range ctx.QueryParams()["status"] {
		s, err := api.labels.ParseCertificateStatus(label)
		if err != nil {
			return err
		}
		filter.Statuses = append(filter.Statuses, s)
	}

	sums, err := api.svc.Dashboard(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying issuances")
	}
	views := make([]summaryView, len(sums))
	for i, sum := range sums {
		views[i] = summaryView{issuanceView: api.view(sum.Issuance), Totals: sum.Totals}
	}
	return ctx.JSON(http.StatusOK, views)
}

func (api *certificateApi) retrieve(ctx echo.Context) error {
	iss, err := api.object(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, api.view(iss))
}

func (api *certificateApi) fee(ctx echo.Context) error {
	iss, err := api.object(ctx)
	if err != nil {
		return err
	}
	totals, err := api.svc.AggregateFeeAndWeight(ctx.Request().Context(), iss.ID)
	if err != nil {
		return errors.Wrap(err, "aggregating fee and weight")
	}
	return ctx.JSON(http.StatusOK, totals)
}

func (api *certificateApi) apply(ctx echo.Context) error {
	iss, err := api.object(ctx)
	if err != nil {
		return err
	}
	var data certificateActionRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to certificateActionRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}
	if roles, ok := actionRoles[data.Action]; ok && !contextHasAnyRole(ctx, roles) {
		return errHttpForbidden
	}
	uid, err := getContextUserID(ctx)
	if err != nil {
		return err
	}

	rctx := ctx.Request().Context()
	if err = api.svc.Apply(rctx, iss.ID, data.Action, certificate.Actor{UserID: uid}); err != nil {
		return stepErr(err, "applying action")
	}
	if iss, err = api.svc.Get(rctx, iss.ID); err != nil {
		return errors.Wrap(err, "getting issuance")
	}
	return ctx.JSON(http.StatusOK, api.view(iss))
}

// renotify replays the notifications of the current status, after an action answered with a step error.
func (api *certificateApi) renotify(ctx echo.Context) error {
	iss, err := api.object(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Renotify(ctx.Request().Context(), iss.ID); err != nil {
		return stepErr(err, "replaying notifications")
	}
	return ctx.NoContent(http.StatusNoContent)
}
