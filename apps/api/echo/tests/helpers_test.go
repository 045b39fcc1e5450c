package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	echoapi "github.com/trezcool/karani/apps/api/echo"
	"github.com/trezcool/karani/core"
	"github.com/trezcool/karani/core/certificate"
	"github.com/trezcool/karani/core/jobsearch"
	"github.com/trezcool/karani/core/labels"
	"github.com/trezcool/karani/core/notification"
	"github.com/trezcool/karani/core/recipient"
	"github.com/trezcool/karani/core/user"
	"github.com/trezcool/karani/storage/database/inmem"
	"github.com/trezcool/karani/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     interface{}
	token    string
	wantCode int
}

type fixture struct {
	app     *echoapi.Server
	usrRepo user.Repository
	jobRepo jobsearch.Repository
	school  testutil.School
	logger  *testutil.Logger
}

func setup(t *testing.T) fixture {
	conf := core.NewTestConfig()
	logger := &testutil.Logger{}

	// set up DB & repos
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	certRepo := inmemdb.NewCertificateRepository(db)
	jobRepo := inmemdb.NewJobSearchRepository(db)
	notifRepo := inmemdb.NewNotificationRepository(db)
	certRepo.SaveCertificateType(context.Background(), certificate.CertificateType{ID: 1, Name: "Transcript", UnitFee: 300, UnitWeight: 10})

	// set up services
	usrSvc := user.NewService(usrRepo)
	resolver := recipient.NewResolver(usrSvc)
	notifSvc := notification.NewService(notifRepo, logger)
	tariff := certificate.Tariff{FeePerBracket: 500, MaxWeightPerBracket: 20}

	validate := validator.New()
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	// set up server
	app := echoapi.NewServer(echoapi.ServerDeps{
		Conf:            conf,
		Logger:          logger,
		UserSvc:         usrSvc,
		CertificateSvc:  certificate.NewService(certRepo, notifSvc, resolver, tariff, logger),
		JobSearchSvc:    jobsearch.NewService(jobRepo, notifSvc, resolver, logger),
		NotificationSvc: notifSvc,
		Labels:          labels.NewCatalog(),
		Validate:        validate,
		Translator:      translator,
	})

	return fixture{
		app:     app,
		usrRepo: usrRepo,
		jobRepo: jobRepo,
		school:  testutil.CreateSchool(t, usrRepo),
		logger:  logger,
	}
}

func (f fixture) token(t *testing.T, usr user.User) string {
	token, err := f.app.Auth().GenerateToken(f.app.Auth().GetUserClaims(usr))
	if err != nil {
		t.Fatalf("token() failed: %v", err)
	}
	return token
}

// do runs the request and decodes the response body into out, when given.
func (f fixture) do(t *testing.T, tt httpTest, out ...interface{}) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if tt.body != nil {
		if err := json.NewEncoder(&body).Encode(tt.body); err != nil {
			t.Fatalf("do() failed: %v", err)
		}
	}
	method := tt.method
	if method == "" {
		method = http.MethodGet
	}
	req := httptest.NewRequest(method, tt.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if tt.token != "" {
		req.Header.Set("Authorization", "Bearer "+tt.token)
	}
	rec := httptest.NewRecorder()
	f.app.ServeHTTP(rec, req)

	if tt.wantCode != 0 && rec.Code != tt.wantCode {
		t.Fatalf("%s %s: code = %d, want %d; body: %s", method, tt.path, rec.Code, tt.wantCode, rec.Body.String())
	}
	if len(out) > 0 {
		decode(t, rec, out[0])
	}
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func (f fixture) pendingCount(t *testing.T, usr user.User) int {
	var resp echoapi.CountResponse
	f.do(t, httpTest{path: "/v1/notifications/count", token: f.token(t, usr), wantCode: http.StatusOK}, &resp)
	return resp.Count
}
