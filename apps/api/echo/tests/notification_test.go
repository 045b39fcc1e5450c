package tests

import (
	"net/http"
	"testing"

	"github.com/trezcool/karani/core/jobsearch"
)

func Test_notificationApi(t *testing.T) {
	f := setup(t)
	app := f.createApplication(t, f.school.Student, jobsearch.EventExam)
	f.do(t, httpTest{
		method:   http.MethodPost,
		path:     jobPath(app.ID, "actions"),
		body:     map[string]interface{}{"action": jobsearch.ActionApprove, "school_check": true},
		token:    f.token(t, f.school.Teacher),
		wantCode: http.StatusOK,
	})

	var missing httpErr
	f.do(t, httpTest{path: "/v1/notifications", wantCode: http.StatusUnauthorized}, &missing)
	if missing != errMissingToken {
		t.Errorf("list() error = %v, want %v", missing, errMissingToken)
	}

	// the roster-checked notice supersedes the approval one
	if n := f.pendingCount(t, f.school.Teacher); n != 1 {
		t.Errorf("teacher pending = %d, want 1", n)
	}

	var got []struct {
		Notification struct {
			RecipientID int  `json:"recipient_id"`
			JobSearchID *int `json:"job_search_id"`
			IssuanceID  *int `json:"certificate_issuance_id"`
		} `json:"notification"`
		Label string `json:"label"`
	}
	f.do(t, httpTest{path: "/v1/notifications", token: f.token(t, f.school.Teacher), wantCode: http.StatusOK}, &got)
	if len(got) != 1 {
		t.Fatalf("list() returned %d notifications, want 1", len(got))
	}
	n := got[0]
	if n.Notification.RecipientID != f.school.Teacher.ID || n.Notification.JobSearchID == nil ||
		*n.Notification.JobSearchID != app.ID || n.Notification.IssuanceID != nil {
		t.Errorf("list() = %+v", n)
	}
	if n.Label != "名簿確認済" {
		t.Errorf("label = %q, want %q", n.Label, "名簿確認済")
	}

	if c := f.pendingCount(t, f.school.Student); c != 0 {
		t.Errorf("student pending = %d, want 0", c)
	}
}
