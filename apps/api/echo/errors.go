package echoapi

import (
	"net/http"
	"strconv"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/karani/core"
	"github.com/trezcool/karani/core/certificate"
	"github.com/trezcool/karani/core/jobsearch"
	"github.com/trezcool/karani/core/labels"
	"github.com/trezcool/karani/core/notification"
	"github.com/trezcool/karani/core/recipient"
	"github.com/trezcool/karani/core/user"
)

var (
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errAccountDeactivated   = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRefreshExpired       = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound         = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// domain errors whose message can be shown as is
var errorCodes = map[error]int{
	core.ErrInvalidArgument:          http.StatusBadRequest,
	certificate.ErrInvalidAction:     http.StatusBadRequest,
	certificate.ErrUnknownMedia:      http.StatusBadRequest,
	certificate.ErrRecipientMismatch: http.StatusBadRequest,
	jobsearch.ErrInvalidAction:       http.StatusBadRequest,
	notification.ErrInvalidNotice:    http.StatusBadRequest,
	labels.ErrUnknownLabel:           http.StatusBadRequest,
	certificate.ErrNotOfficeStaff:    http.StatusForbidden,
	certificate.ErrNotFound:          http.StatusNotFound,
	jobsearch.ErrNotFound:            http.StatusNotFound,
	user.ErrNotFound:                 http.StatusNotFound,
	core.ErrPrecondition:             http.StatusConflict,
	certificate.ErrInvalidTransition: http.StatusConflict,
	jobsearch.ErrInvalidTransition:   http.StatusConflict,
	recipient.ErrNoHomeroomTeacher:   http.StatusConflict,
}

// domainErrorCode returns 0 for errors missing from errorCodes.
// Some causes (eg. validator.ValidationErrors) are unhashable, hence no map lookup.
func domainErrorCode(cause error) int {
	for e, code := range errorCodes {
		if cause == e {
			return code
		}
	}
	return 0
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		cause := errors.Cause(err)
		if code = domainErrorCode(cause); code != 0 && !core.IsStepError(err) {
			message = err.Error()
			cause = nil
		}

		switch origErr := cause.(type) {
		case nil:
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = origErr.Message
				break
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg
			if core.IsStepError(err) {
				// the status write went through; only notifications are missing
				message = echo.Map{"error": msg, "status_written": true}
			}

			var usr user.User
			if claims, cErr := getContextClaims(ctx); cErr == nil {
				usr.ID, _ = strconv.Atoi(claims.Subject)
				usr.Username = claims.Username
				usr.Email = claims.Email
			}
			logger.Error(msg, errors.Wrap(err, msg), usr)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
