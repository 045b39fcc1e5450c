// Package certificate drives certificate-issuance requests from the homeroom teacher's
// approval to the student's receipt, and prices them.
package certificate

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
	ErrNotFound          = errors.New("certificate issuance not found")
	ErrInvalidAction     = errors.New("invalid certificate action")
	ErrInvalidTransition = errors.New("action not allowed from the current status")
	ErrUnknownMedia      = errors.New("unknown media kind")
	ErrRecipientMismatch = errors.New("a mail recipient is required for, and only for, mailed certificates")
	ErrNotOfficeStaff    = errors.New("actor is not office staff")
)

type (
	Repository interface {
		CreateIssuance(ctx context.Context, iss Issuance) (Issuance, error)
		GetIssuance(ctx context.Context, id int) (Issuance, error)
		QueryIssuances(ctx context.Context, filter QueryFilter) ([]Issuance, error)
		// QueryLineRows returns one row per (issuance, certificate type), types outer-joined.
		QueryLineRows(ctx context.Context, issuanceIDs ...int) ([]LineRow, error)
		// TransitionIssuance writes t.To (and the set fields of t) only if the stored status is t.From.
		// It returns core.ErrPrecondition when no row was updated.
		TransitionIssuance(ctx context.Context, t Transition) error
	}

	// Notifier is the part of the notification service the state machine drives.
	Notifier interface {
		Dispatch(ctx context.Context, notice notification.Notice) (notification.Notification, error)
		Broadcast(ctx context.Context, subject notification.Subject, recipientIDs []int, category notification.Category) error
		Retire(ctx context.Context, subject notification.Subject, recipientIDs ...int) (int, error)
		Clear(ctx context.Context, subject notification.Subject) error
	}

	// OfficeResolver lists the office staff. The student of an issuance is known from the issuance
	// itself, so no homeroom teacher lookup is involved.
	OfficeResolver interface {
		Office(ctx context.Context) ([]int, error)
	}

	Service struct {
		repo     Repository
		notifier Notifier
		resolver OfficeResolver
		tariff   Tariff
		logger   core.Logger
		nowFunc  func() time.Time
	}
)

var (
	_ Notifier       = (*notification.Service)(nil)
	_ OfficeResolver = (*recipient.Resolver)(nil)
)

func NewService(repo Repository, notifier Notifier, resolver OfficeResolver, tariff Tariff, logger core.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		resolver: resolver,
		tariff:   tariff,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

type rule struct {
	from []Status
	// to is the target status; media only matters for Issue.
	to func(media MediaKind) (Status, error)
}

func fixed(s Status) func(MediaKind) (Status, error) {
	return func(MediaKind) (Status, error) { return s, nil }
}

var rules = map[Action]rule{
	ActionApprove: {
		from: []Status{StatusPendingTeacherApproval, StatusReturned},
		to:   fixed(StatusPendingPayment),
	},
	ActionWithdrawOrReturn: {
		from: []Status{StatusPendingTeacherApproval, StatusPendingPayment},
		to:   fixed(StatusReturned),
	},
	ActionReceipt: {
		from: []Status{StatusPendingPayment},
		to:   fixed(StatusPendingIssuance),
	},
	ActionIssue: {
		from: []Status{StatusPendingIssuance},
		to: func(media MediaKind) (Status, error) {
			switch media {
			case MediaElectronic:
				return StatusIssued, nil
			case MediaPaper, MediaMail:
				return StatusPendingReceipt, nil
			}
			return 0, errors.Wrapf(ErrUnknownMedia, "%q", media)
		},
	},
	ActionSend: {
		from: []Status{StatusIssued},
		to: func(media MediaKind) (Status, error) {
			if media != MediaElectronic {
				return 0, errors.Wrapf(ErrInvalidTransition, "send is for electronic certificates, not %q", media)
			}
			return StatusPendingReceipt, nil
		},
	},
	ActionComplete: {
		from: []Status{StatusPendingReceipt},
		to:   fixed(StatusComplete),
	},
}

// target checks that action may be applied to iss and returns the status it leads to.
func target(iss Issuance, action Action) (Status, error) {
	r, ok := rules[action]
	if !ok {
		return 0, errors.Wrapf(ErrInvalidAction, "code %d", action)
	}
	allowed := false
	for _, s := range r.from {
		if s == iss.Status {
			allowed = true
			break
		}
	}
	if !allowed {
		return 0, errors.Wrapf(ErrInvalidTransition, "action %d from status %d", action, iss.Status)
	}
	return r.to(iss.Media)
}

func (svc *Service) Create(ctx context.Context, ni NewIssuance) (Issuance, error) {
	now := svc.nowFunc().UTC()
	iss := Issuance{
		StudentID:       ni.StudentID,
		Status:          StatusPendingTeacherApproval,
		Media:           ni.Media,
		ApplicationDate: now,
		Recipient:       ni.Recipient,
		Lines:           ni.Lines,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return svc.repo.CreateIssuance(ctx, iss)
}

func (svc *Service) Get(ctx context.Context, id int) (Issuance, error) {
	if err := vala.BeginValidation().Validate(vala.GreaterThan(id, 0, "id")).Check(); err != nil {
		return Issuance{}, errors.Wrap(core.ErrInvalidArgument, err.Error())
	}
	return svc.repo.GetIssuance(ctx, id)
}

// Apply performs action on the issuance and notifies whoever must act next.
// Once the status is written, a failing notification step is returned as a *core.StepError;
// Renotify then completes the notifications without touching the status.
func (svc *Service) Apply(ctx context.Context, issuanceID int, action Action, actor Actor) (err error) {
	defer core.RecoverAsError(svc.logger, "certificate.Apply", &err)

	if _, ok := rules[action]; !ok {
		return errors.Wrapf(ErrInvalidAction, "code %d", action)
	}
	iss, err := svc.Get(ctx, issuanceID)
	if err != nil {
		return errors.Wrap(err, "getting issuance")
	}
	to, err := target(iss, action)
	if err != nil {
		return err
	}

	switch action {
	case ActionApprove:
		return svc.approve(ctx, iss, to)
	case ActionWithdrawOrReturn:
		return svc.withdrawOrReturn(ctx, iss, to)
	case ActionReceipt:
		return svc.receipt(ctx, iss, to, actor)
	case ActionIssue:
		return svc.issue(ctx, iss, to)
	case ActionSend:
		return svc.send(ctx, iss, to)
	default: // ActionComplete
		return svc.complete(ctx, iss, to)
	}
}

// Renotify replays the notifications owed at the issuance's current status, writing nothing else.
// Notifications are one per (subject, recipient), so replaying is harmless.
func (svc *Service) Renotify(ctx context.Context, issuanceID int) (err error) {
	defer core.RecoverAsError(svc.logger, "certificate.Renotify", &err)

	iss, err := svc.Get(ctx, issuanceID)
	if err != nil {
		return errors.Wrap(err, "getting issuance")
	}
	switch iss.Status {
	case StatusPendingTeacherApproval:
		return nil
	case StatusPendingPayment:
		return svc.notifyPayment(ctx, iss)
	case StatusReturned:
		return svc.notifyReturned(ctx, iss)
	case StatusPendingIssuance:
		if iss.OfficeUserID == 0 {
			return errors.Wrapf(core.ErrRuntime, "issuance %d is pending issuance without an office user", iss.ID)
		}
		return svc.notifyIssuance(ctx, iss, iss.OfficeUserID)
	case StatusIssued, StatusPendingReceipt:
		return svc.notifyStudent(ctx, iss)
	case StatusComplete:
		return svc.clear(ctx, iss)
	}
	return errors.Wrapf(core.ErrRuntime, "issuance %d has unknown status %d", iss.ID, iss.Status)
}

func (svc *Service) approve(ctx context.Context, iss Issuance, to Status) error {
	totals, err := svc.aggregate(ctx, iss)
	if err != nil {
		return err
	}
	now := svc.nowFunc().UTC()
	t := Transition{IssuanceID: iss.ID, From: iss.Status, To: to, ApprovalDate: &now, TotalFee: &totals.Fee}
	if err := svc.repo.TransitionIssuance(ctx, t); err != nil {
		return errors.Wrap(err, "approving")
	}
	return svc.notifyPayment(ctx, iss)
}

func (svc *Service) notifyPayment(ctx context.Context, iss Issuance) error {
	subject := notification.Certificate(iss.ID)
	if err := svc.notify(ctx, "notify student", subject, iss.StudentID, notification.CategoryPayment); err != nil {
		return err
	}
	office, err := svc.resolver.Office(ctx)
	if err != nil {
		return svc.stepFailed("resolve office", iss.ID, err)
	}
	if err := svc.notifier.Broadcast(ctx, subject, office, notification.CategoryPayment); err != nil {
		return svc.stepFailed("broadcast to office", iss.ID, err)
	}
	return nil
}

func (svc *Service) withdrawOrReturn(ctx context.Context, iss Issuance, to Status) error {
	if err := svc.transition(ctx, iss, to); err != nil {
		return err
	}
	return svc.notifyReturned(ctx, iss)
}

func (svc *Service) notifyReturned(ctx context.Context, iss Issuance) error {
	subject := notification.Certificate(iss.ID)
	office, err := svc.resolver.Office(ctx)
	if err != nil {
		return svc.stepFailed("resolve office", iss.ID, err)
	}
	if _, err := svc.notifier.Retire(ctx, subject, office...); err != nil {
		return svc.stepFailed("retire office notices", iss.ID, err)
	}
	return svc.notify(ctx, "notify student", subject, iss.StudentID, notification.CategoryReturned)
}

// receipt assigns the acting office user along with the status write, so a lost race
// leaves the issuance untouched.
func (svc *Service) receipt(ctx context.Context, iss Issuance, to Status, actor Actor) error {
	if actor.UserID <= 0 {
		return errors.Wrap(core.ErrInvalidArgument, "receipt requires the acting office user")
	}
	office, err := svc.resolver.Office(ctx)
	if err != nil {
		return errors.Wrap(err, "resolving office")
	}
	if !contains(office, actor.UserID) {
		return errors.Wrapf(ErrNotOfficeStaff, "user %d", actor.UserID)
	}
	t := Transition{IssuanceID: iss.ID, From: iss.Status, To: to, OfficeUserID: &actor.UserID}
	if err := svc.repo.TransitionIssuance(ctx, t); err != nil {
		return errors.Wrap(err, "receiving payment")
	}
	return svc.notifyIssuance(ctx, iss, actor.UserID)
}

func (svc *Service) notifyIssuance(ctx context.Context, iss Issuance, officeUserID int) error {
	subject := notification.Certificate(iss.ID)
	office, err := svc.resolver.Office(ctx)
	if err != nil {
		return svc.stepFailed("resolve office", iss.ID, err)
	}
	others := make([]int, 0, len(office))
	for _, id := range office {
		if id != officeUserID {
			others = append(others, id)
		}
	}
	if _, err := svc.notifier.Retire(ctx, subject, others...); err != nil {
		return svc.stepFailed("retire office notices", iss.ID, err)
	}
	return svc.notify(ctx, "notify office user", subject, officeUserID, notification.CategoryIssuance)
}

func (svc *Service) issue(ctx context.Context, iss Issuance, to Status) error {
	now := svc.nowFunc().UTC()
	t := Transition{IssuanceID: iss.ID, From: iss.Status, To: to}
	switch iss.Media {
	case MediaPaper:
		t.DeliveryDate = &now
	case MediaMail:
		t.PostDate = &now
	}
	if err := svc.repo.TransitionIssuance(ctx, t); err != nil {
		return errors.Wrap(err, "issuing")
	}
	iss.Status = to
	return svc.notifyStudent(ctx, iss)
}

func (svc *Service) send(ctx context.Context, iss Issuance, to Status) error {
	now := svc.nowFunc().UTC()
	t := Transition{IssuanceID: iss.ID, From: iss.Status, To: to, SendDate: &now}
	if err := svc.repo.TransitionIssuance(ctx, t); err != nil {
		return errors.Wrap(err, "sending")
	}
	iss.Status = to
	return svc.notifyStudent(ctx, iss)
}

// notifyStudent tells the student their certificate is issued (electronic, not yet sent)
// or on its way.
func (svc *Service) notifyStudent(ctx context.Context, iss Issuance) error {
	category := notification.CategoryReceipt
	if iss.Status == StatusIssued {
		category = notification.CategoryIssued
	}
	return svc.notify(ctx, "notify student", notification.Certificate(iss.ID), iss.StudentID, category)
}

func (svc *Service) complete(ctx context.Context, iss Issuance, to Status) error {
	if err := svc.transition(ctx, iss, to); err != nil {
		return err
	}
	return svc.clear(ctx, iss)
}

func (svc *Service) clear(ctx context.Context, iss Issuance) error {
	if err := svc.notifier.Clear(ctx, notification.Certificate(iss.ID)); err != nil {
		return svc.stepFailed("clear notifications", iss.ID, err)
	}
	return nil
}

func (svc *Service) transition(ctx context.Context, iss Issuance, to Status) error {
	err := svc.repo.TransitionIssuance(ctx, Transition{IssuanceID: iss.ID, From: iss.Status, To: to})
	return errors.Wrapf(err, "moving issuance %d from %d to %d", iss.ID, iss.Status, to)
}

func (svc *Service) notify(ctx context.Context, step string, subject notification.Subject, recipientID int, category notification.Category) error {
	_, err := svc.notifier.Dispatch(ctx, notification.Notice{
		Subject:     subject,
		RecipientID: recipientID,
		Category:    category,
	})
	if err != nil {
		return svc.stepFailed(step, subject.ID, err)
	}
	return nil
}

func (svc *Service) stepFailed(step string, issuanceID int, err error) error {
	stepErr := core.NewStepError(step, err)
	svc.logger.Error(fmt.Sprintf("certificate %d: %s failed after status write", issuanceID, step), stepErr, notification.Certificate(issuanceID))
	return stepErr
}

// AggregateFeeAndWeight returns the issuance's total weight and fee, postage included.
func (svc *Service) AggregateFeeAndWeight(ctx context.Context, issuanceID int) (Totals, error) {
	iss, err := svc.Get(ctx, issuanceID)
	if err != nil {
		return Totals{}, errors.Wrap(err, "getting issuance")
	}
	return svc.aggregate(ctx, iss)
}

func (svc *Service) aggregate(ctx context.Context, iss Issuance) (Totals, error) {
	rows, err := svc.repo.QueryLineRows(ctx, iss.ID)
	if err != nil {
		return Totals{}, errors.Wrap(err, "querying certificate lines")
	}
	totals, err := svc.fold(rows, func(int) MediaKind { return iss.Media })
	if err != nil {
		return Totals{}, err
	}
	return totals[iss.ID], nil
}

func (svc *Service) fold(rows []LineRow, mediaOf func(int) MediaKind) (map[int]Totals, error) {
	totals, dropped, err := Aggregate(rows, svc.tariff, mediaOf)
	if err != nil {
		return nil, errors.Wrap(err, "aggregating fees")
	}
	for _, d := range dropped {
		svc.logger.Warn(fmt.Sprintf("certificate %d: dropped line: %v", d.Row.IssuanceID, d.Err))
	}
	return totals, nil
}

// Dashboard lists issuances with their aggregated totals, in a single line query.
func (svc *Service) Dashboard(ctx context.Context, filter QueryFilter) ([]Summary, error) {
	issuances, err := svc.repo.QueryIssuances(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "querying issuances")
	}
	if len(issuances) == 0 {
		return []Summary{}, nil
	}

	ids := make([]int, len(issuances))
	media := make(map[int]MediaKind, len(issuances))
	for i, iss := range issuances {
		ids[i] = iss.ID
		media[iss.ID] = iss.Media
	}
	rows, err := svc.repo.QueryLineRows(ctx, ids...)
	if err != nil {
		return nil, errors.Wrap(err, "querying certificate lines")
	}
	totals, err := svc.fold(rows, func(id int) MediaKind { return media[id] })
	if err != nil {
		return nil, err
	}

	sums := make([]Summary, len(issuances))
	for i, iss := range issuances {
		sums[i] = Summary{Issuance: iss, Totals: totals[iss.ID]}
	}
	return sums, nil
}

func contains(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
