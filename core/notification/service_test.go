package notification_test

import (
	"context"
	"encoding/json"
	"net/mail"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/trezcool/karani/core"
	"github.com/trezcool/karani/core/notification"
	"github.com/trezcool/karani/storage/database/inmem"
	"github.com/trezcool/karani/tests"
)

func setup() (*notification.Service, notification.Repository) {
	repo := inmemdb.NewNotificationRepository(inmemdb.Open())
	return notification.NewService(repo, &testutil.Logger{}), repo
}

func TestService_Dispatch(t *testing.T) {
	ctx := context.Background()
	subject := notification.JobSearch(7)

	tests := []struct {
		name    string
		notices []notification.Notice
		want    []notification.Category // recipient 1's notifications on the subject
		wantErr error
	}{
		{
			name:    "first notice",
			notices: []notification.Notice{{Subject: subject, RecipientID: 1, Category: notification.CategoryApproval}},
			want:    []notification.Category{notification.CategoryApproval},
		},
		{
			name: "same notice twice",
			notices: []notification.Notice{
				{Subject: subject, RecipientID: 1, Category: notification.CategoryApproval},
				{Subject: subject, RecipientID: 1, Category: notification.CategoryApproval},
			},
			want: []notification.Category{notification.CategoryApproval},
		},
		{
			name: "newer notice supersedes",
			notices: []notification.Notice{
				{Subject: subject, RecipientID: 1, Category: notification.CategoryApproval},
				{Subject: subject, RecipientID: 1, Category: notification.CategoryRosterChecked},
			},
			want: []notification.Category{notification.CategoryRosterChecked},
		},
		{
			name: "other subjects untouched",
			notices: []notification.Notice{
				{Subject: subject, RecipientID: 1, Category: notification.CategoryApproval},
				{Subject: notification.Certificate(7), RecipientID: 1, Category: notification.CategoryPayment},
			},
			want: []notification.Category{notification.CategoryApproval},
		},
		{
			name:    "no recipient",
			notices: []notification.Notice{{Subject: subject, Category: notification.CategoryApproval}},
			wantErr: notification.ErrInvalidNotice,
		},
		{
			name:    "no subject",
			notices: []notification.Notice{{RecipientID: 1, Category: notification.CategoryApproval}},
			wantErr: notification.ErrInvalidNotice,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := setup()
			var err error
			for _, n := range tt.notices {
				if _, err = svc.Dispatch(ctx, n); err != nil {
					break
				}
			}
			if errors.Cause(err) != tt.wantErr {
				t.Fatalf("Dispatch() error = %v; wantErr %v", err, tt.wantErr)
			}

			ns, _ := repo.QueryNotifications(ctx, 1)
			var got []notification.Category
			for _, n := range ns {
				if n.Subject == subject {
					got = append(got, n.Category)
				}
			}
			if len(got) != len(tt.want) {
				t.Fatalf("notifications = %v; want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("notifications = %v; want %v", got, tt.want)
				}
			}
		})
	}
}

func TestService_Dispatch_Resend(t *testing.T) {
	ctx := context.Background()
	subject := notification.JobSearch(7)
	approval := notification.Notice{Subject: subject, RecipientID: 1, Category: notification.CategoryApproval}
	rosterChecked := notification.Notice{Subject: subject, RecipientID: 1, Category: notification.CategoryRosterChecked, First: true}
	other := notification.Notice{Subject: subject, RecipientID: 2, Category: notification.CategoryApproval}

	tests := []struct {
		name       string
		notices    []notification.Notice
		wantResend []bool
	}{
		{name: "first notice", notices: []notification.Notice{approval}, wantResend: []bool{false}},
		{name: "superseding notice", notices: []notification.Notice{approval, approval}, wantResend: []bool{false, true}},
		{name: "forced first notice", notices: []notification.Notice{approval, rosterChecked}, wantResend: []bool{false, false}},
		{name: "other recipient", notices: []notification.Notice{approval, other}, wantResend: []bool{false, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := setup()
			for i, notice := range tt.notices {
				n, err := svc.Dispatch(ctx, notice)
				if err != nil {
					t.Fatalf("Dispatch() error = %v", err)
				}
				if n.Resend != tt.wantResend[i] {
					t.Errorf("dispatch #%d: Resend = %v; want %v", i+1, n.Resend, tt.wantResend[i])
				}
			}
		})
	}
}

func TestService_Dispatch_Concurrent(t *testing.T) {
	ctx := context.Background()
	svc, repo := setup()
	subject := notification.Certificate(3)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Dispatch(ctx, notification.Notice{Subject: subject, RecipientID: 5, Category: notification.CategoryPayment})
		}()
	}
	wg.Wait()

	n, _ := repo.CountNotifications(ctx, notification.Filter{RecipientID: 5, Subject: &subject})
	if n != 1 {
		t.Errorf("notifications = %d; want 1", n)
	}
}

func TestService_BroadcastAndRetire(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup()
	subject := notification.Certificate(1)

	if err := svc.Broadcast(ctx, subject, []int{2, 3, 3, 4}, notification.CategoryPayment); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	for id, want := range map[int]int{2: 1, 3: 1, 4: 1, 5: 0} {
		if got, _ := svc.PendingCount(ctx, id); got != want {
			t.Errorf("PendingCount(%d) = %d; want %d", id, got, want)
		}
	}

	n, err := svc.Retire(ctx, subject, 2, 4)
	if err != nil || n != 2 {
		t.Errorf("Retire() = %d, %v; want 2, nil", n, err)
	}
	if ok, _ := svc.HasPending(ctx, 2); ok {
		t.Error("HasPending(2) = true after retire")
	}
	if ok, _ := svc.HasPending(ctx, 3); !ok {
		t.Error("HasPending(3) = false; want true")
	}
	if n, _ := svc.Retire(ctx, subject); n != 0 {
		t.Errorf("Retire() with no recipients deleted %d", n)
	}
}

func TestService_Clear(t *testing.T) {
	ctx := context.Background()
	svc, repo := setup()
	subject := notification.JobSearch(9)
	other := notification.JobSearch(10)

	_ = svc.Broadcast(ctx, subject, []int{1, 2, 3}, notification.CategoryApproval)
	_ = svc.Broadcast(ctx, other, []int{1}, notification.CategoryApproval)

	if err := svc.Clear(ctx, subject); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if n, _ := repo.CountNotifications(ctx, notification.Filter{Subject: &subject}); n != 0 {
		t.Errorf("notifications of subject = %d; want 0", n)
	}
	if n, _ := repo.CountNotifications(ctx, notification.Filter{Subject: &other}); n != 1 {
		t.Errorf("notifications of other subject = %d; want 1", n)
	}
}

// leakyRepo deletes fewer rows than it counts.
type leakyRepo struct {
	notification.Repository
}

func (r leakyRepo) DeleteNotifications(ctx context.Context, subject notification.Subject, ids ...int) (int, error) {
	n, err := r.Repository.DeleteNotifications(ctx, subject, ids...)
	return n - 1, err
}

func TestService_Clear_Mismatch(t *testing.T) {
	ctx := context.Background()
	repo := leakyRepo{inmemdb.NewNotificationRepository(inmemdb.Open())}
	svc := notification.NewService(repo, &testutil.Logger{})
	subject := notification.Certificate(4)
	_ = svc.Broadcast(ctx, subject, []int{1, 2}, notification.CategoryReceipt)

	if err := svc.Clear(ctx, subject); errors.Cause(err) != notification.ErrMismatch {
		t.Errorf("Clear() error = %v; want %v", err, notification.ErrMismatch)
	}
}

type mailSpy struct {
	mu   sync.Mutex
	sent []*core.EmailMessage
}

func (m *mailSpy) SendMessages(msgs ...*core.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msgs...)
}

type contacts map[int]mail.Address

func (c contacts) ContactOf(_ context.Context, id int) (string, string, error) {
	a, ok := c[id]
	if !ok {
		return "", "", errors.New("no such user")
	}
	return a.Name, a.Address, nil
}

type upper struct{}

func (upper) NotificationCategory(c notification.Category) string { return "[" + string(c) + "]" }

func TestService_Dispatch_EmailMirror(t *testing.T) {
	ctx := context.Background()
	spy := &mailSpy{}
	logger := &testutil.Logger{}
	svc := notification.NewService(inmemdb.NewNotificationRepository(inmemdb.Open()), logger).
		WithEmail(spy, contacts{1: {Name: "Ito", Address: "ito@test.jp"}}, upper{}, &core.Config{FrontendBaseURL: "https://karani.test"})

	subject := notification.JobSearch(2)
	_, _ = svc.Dispatch(ctx, notification.Notice{Subject: subject, RecipientID: 1, Category: notification.CategoryReturned})
	_, _ = svc.Dispatch(ctx, notification.Notice{Subject: subject, RecipientID: 1, Category: notification.CategoryReturned})
	_, err := svc.Dispatch(ctx, notification.Notice{Subject: subject, RecipientID: 2, Category: notification.CategoryReturned})
	if err != nil {
		t.Fatalf("Dispatch() to a user without contact: %v", err)
	}

	if len(spy.sent) != 1 {
		t.Fatalf("sent %d e-mails; want 1 (first notice only)", len(spy.sent))
	}
	msg := spy.sent[0]
	if msg.Subject != "[returned]" || msg.To[0].Address != "ito@test.jp" || msg.TemplateName != "notice" {
		t.Errorf("e-mail = %+v", msg)
	}
	if len(logger.Entries("warning")) != 1 {
		t.Errorf("warnings = %v; want the missing contact", logger.Entries("warning"))
	}
}

func TestNotification_MarshalJSON(t *testing.T) {
	n := notification.Notification{ID: 1, RecipientID: 2, Subject: notification.Certificate(3), Category: notification.CategoryPayment}
	data, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got map[string]interface{}
	_ = json.Unmarshal(data, &got)
	if got["certificate_issuance_id"] != float64(3) || got["job_search_id"] != nil {
		t.Errorf("Marshal() = %s", data)
	}
}
