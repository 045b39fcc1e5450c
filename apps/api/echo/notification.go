package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/karani/core/labels"
	"github.com/trezcool/karani/core/notification"
)

type (
	CountResponse struct {
		Count int `json:"count"`
	}

	notificationView struct {
		Notification notification.Notification `json:"notification"`
		Label        string                    `json:"label"`
	}

	notificationApi struct {
		svc    *notification.Service
		labels *labels.Catalog
	}
)

func registerNotificationAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *notification.Service, catalog *labels.Catalog) {
	api := notificationApi{svc: svc, labels: catalog}

	ng := g.Group("/notifications", jwt)
	ng.GET("", api.list)
	ng.GET("/count", api.count)
}

// Handlers

func (api *notificationApi) count(ctx echo.Context) error {
	uid, err := getContextUserID(ctx)
	if err != nil {
		return err
	}
	n, err := api.svc.PendingCount(ctx.Request().Context(), uid)
	if err != nil {
		return errors.Wrap(err, "counting notifications")
	}
	return ctx.JSON(http.StatusOK, CountResponse{Count: n})
}

func (api *notificationApi) list(ctx echo.Context) error {
	uid, err := getContextUserID(ctx)
	if err != nil {
		return err
	}
	ns, err := api.svc.List(ctx.Request().Context(), uid)
	if err != nil {
		return errors.Wrap(err, "listing notifications")
	}
	views := make([]notificationView, len(ns))
	for i, n := range ns {
		views[i] = notificationView{Notification: n, Label: api.labels.NotificationCategory(n.Category)}
	}
	return ctx.JSON(http.StatusOK, views)
}
