package emailsvc

import (
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/karani/core"
	testutil "github.com/trezcool/karani/tests"
)

type noticeData struct {
	RecipientName string
	Message       string
	Path          string
}

func noticeMessage() *core.EmailMessage {
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: "Ito", Address: "ito@test.jp"}},
		Subject:      "支払待ち",
		TemplateName: "notice",
		TemplateData: noticeData{RecipientName: "Ito", Message: "支払待ち", Path: "certificates/7"},
	}
	msg.SetFrontendBaseURL("http://localhost:8080")
	return msg
}

func TestConsoleService_SendMessages(t *testing.T) {
	conf := core.NewTestConfig()
	logger := new(testutil.Logger)
	core.ParseEmailTemplates(conf, logger)
	svc := NewConsoleServiceMock(conf, logger)

	svc.SendMessages(
		noticeMessage(),
		&core.EmailMessage{Subject: "no recipient", BodyStr: "dropped"},
		&core.EmailMessage{To: []mail.Address{{Address: "a@test.jp"}}, Subject: "plain", BodyStr: "hello"},
	)

	sent := svc.Sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].TextContent, "Ito 様")
	assert.Contains(t, sent[0].TextContent, "http://localhost:8080/certificates/7")
	assert.Contains(t, sent[0].HTMLContent, `href="http://localhost:8080/certificates/7"`)
	assert.Equal(t, "hello", sent[1].TextContent)
	assert.Empty(t, logger.Entries("error"))
}

func TestSendgridService_Send(t *testing.T) {
	conf := core.NewTestConfig()
	logger := new(testutil.Logger)
	core.ParseEmailTemplates(conf, logger)
	svc := NewSendgridService(conf, logger)

	var (
		mu   sync.Mutex
		reqs []rest.Request
	)
	origAPI := sendgridAPI
	defer func() { sendgridAPI = origAPI }()

	tests := []struct {
		name      string
		status    int
		wantError bool
	}{
		{name: "accepted", status: http.StatusAccepted},
		{name: "rejected", status: http.StatusBadRequest, wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger.Reset()
			sendgridAPI = func(req rest.Request) (*rest.Response, error) {
				mu.Lock()
				defer mu.Unlock()
				reqs = append(reqs, req)
				return &rest.Response{StatusCode: tt.status, Body: "{}"}, nil
			}

			msg := noticeMessage()
			require.NoError(t, msg.Render())
			svc.send(*msg)

			mu.Lock()
			last := reqs[len(reqs)-1]
			mu.Unlock()
			assert.Equal(t, rest.Post, last.Method)
			assert.True(t, strings.HasSuffix(last.BaseURL, endpoint))
			body := string(last.Body)
			assert.Contains(t, body, "[Karani] 支払待ち")
			assert.Contains(t, body, "ito@test.jp")
			assert.Contains(t, body, "text/html")
			assert.Equal(t, tt.wantError, len(logger.Entries("error")) > 0)
		})
	}
}
