// Package notification keeps exactly one current alert per (subject, recipient) pair.
// Each new alert for a pair supersedes the previous one.
package notification

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/karani/core"
)

var (
	// errors
	ErrInvalidNotice = errors.New("invalid notice")
	// ErrMismatch is returned when clearing a subject deletes a different number of
	// notifications than it counted beforehand.
	ErrMismatch = errors.New("notification delete count mismatch")
)

type (
	Repository interface {
		// ReplaceNotification deletes any notification of (n.Subject, n.RecipientID) then inserts n,
		// atomically. Unless first is set, n is stored as a resend when it superseded a
		// notification. It returns the stored notification and the number of deleted rows.
		ReplaceNotification(ctx context.Context, n Notification, first bool) (Notification, int, error)
		// DeleteNotifications deletes the subject's notifications for the given recipients
		// (all recipients if none given) and returns the number of deleted rows.
		DeleteNotifications(ctx context.Context, subject Subject, recipientIDs ...int) (int, error)
		CountNotifications(ctx context.Context, filter Filter) (int, error)
		QueryNotifications(ctx context.Context, recipientID int) ([]Notification, error)
	}

	// ContactBook resolves recipients' e-mail contacts (user.Service implements it).
	ContactBook interface {
		ContactOf(ctx context.Context, userID int) (name, email string, err error)
	}

	// Labeler names a category for humans.
	Labeler interface {
		NotificationCategory(c Category) string
	}

	Service struct {
		repo    Repository
		logger  core.Logger
		nowFunc func() time.Time

		// optional e-mail mirror of first notices
		mailSvc         core.EmailService
		contacts        ContactBook
		labeler         Labeler
		frontendBaseURL string
	}
)

func NewService(repo Repository, logger core.Logger) *Service {
	return &Service{
		repo:    repo,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// WithEmail makes the service mirror every first notice to the recipient's e-mail.
func (svc *Service) WithEmail(mailSvc core.EmailService, contacts ContactBook, labeler Labeler, conf *core.Config) *Service {
	svc.mailSvc = mailSvc
	svc.contacts = contacts
	svc.labeler = labeler
	svc.frontendBaseURL = conf.FrontendBaseURL
	return svc
}

// Dispatch retires any stale notification of (subject, recipient) and records the new one.
// Dispatching the same notice twice leaves a single notification for the pair; the second
// one is a resend unless notice.First is set.
func (svc *Service) Dispatch(ctx context.Context, notice Notice) (Notification, error) {
	if !notice.Subject.Valid() || notice.RecipientID <= 0 || notice.Category == "" {
		return Notification{}, errors.Wrapf(ErrInvalidNotice, "%s -> user %d", notice.Subject, notice.RecipientID)
	}

	n, _, err := svc.repo.ReplaceNotification(ctx, Notification{
		RecipientID: notice.RecipientID,
		Subject:     notice.Subject,
		Category:    notice.Category,
		CreatedAt:   svc.nowFunc().UTC(),
	}, notice.First)
	if err != nil {
		return Notification{}, errors.Wrapf(err, "replacing notification of %s for user %d", notice.Subject, notice.RecipientID)
	}

	if !n.Resend {
		svc.mirrorByEmail(ctx, n)
	}
	return n, nil
}

// Broadcast dispatches one first notice per distinct recipient, stopping at the first failure.
func (svc *Service) Broadcast(ctx context.Context, subject Subject, recipientIDs []int, category Category) error {
	seen := make(map[int]struct{}, len(recipientIDs))
	for _, id := range recipientIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, err := svc.Dispatch(ctx, Notice{Subject: subject, RecipientID: id, Category: category}); err != nil {
			return err
		}
	}
	return nil
}

// Retire deletes the subject's notifications of the given recipients.
func (svc *Service) Retire(ctx context.Context, subject Subject, recipientIDs ...int) (int, error) {
	if len(recipientIDs) == 0 {
		return 0, nil
	}
	n, err := svc.repo.DeleteNotifications(ctx, subject, recipientIDs...)
	return n, errors.Wrapf(err, "retiring notifications of %s", subject)
}

// Clear deletes every notification of the subject; nobody needs to act on it anymore.
func (svc *Service) Clear(ctx context.Context, subject Subject) error {
	want, err := svc.repo.CountNotifications(ctx, Filter{Subject: &subject})
	if err != nil {
		return errors.Wrapf(err, "counting notifications of %s", subject)
	}
	got, err := svc.repo.DeleteNotifications(ctx, subject)
	if err != nil {
		return errors.Wrapf(err, "deleting notifications of %s", subject)
	}
	if got != want {
		return errors.Wrapf(ErrMismatch, "%s: deleted %d, expected %d", subject, got, want)
	}
	return nil
}

// PendingCount returns the number of alerts waiting for the user (badge count).
func (svc *Service) PendingCount(ctx context.Context, userID int) (int, error) {
	n, err := svc.repo.CountNotifications(ctx, Filter{RecipientID: userID})
	return n, errors.Wrap(err, "counting notifications")
}

// HasPending reports whether the user has at least one alert.
func (svc *Service) HasPending(ctx context.Context, userID int) (bool, error) {
	n, err := svc.PendingCount(ctx, userID)
	return n > 0, err
}

func (svc *Service) List(ctx context.Context, userID int) ([]Notification, error) {
	ns, err := svc.repo.QueryNotifications(ctx, userID)
	return ns, errors.Wrap(err, "querying notifications")
}

type noticeMailData struct {
	RecipientName string
	Message       string
	Path          string
}

// mirrorByEmail is best effort: failures are logged, never returned.
func (svc *Service) mirrorByEmail(ctx context.Context, n Notification) {
	if svc.mailSvc == nil || svc.contacts == nil {
		return
	}
	name, email, err := svc.contacts.ContactOf(ctx, n.RecipientID)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("notification e-mail: contact of user %d", n.RecipientID), err)
		return
	}
	if email == "" {
		return
	}

	subject := string(n.Category)
	if svc.labeler != nil {
		subject = svc.labeler.NotificationCategory(n.Category)
	}
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: name, Address: email}},
		Subject:      subject,
		TemplateName: "notice",
		TemplateData: noticeMailData{
			RecipientName: name,
			Message:       subject,
			Path:          n.Subject.Path(),
		},
	}
	msg.SetFrontendBaseURL(svc.frontendBaseURL)
	svc.mailSvc.SendMessages(msg)
}
