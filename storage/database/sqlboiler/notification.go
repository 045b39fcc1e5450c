package boiledrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/karani/core"
	"github.com/trezcool/karani/core/notification"
)

type notificationRow struct {
	ID                    int       `boil:"id"`
	RecipientID           int       `boil:"recipient_id"`
	JobSearchID           null.Int  `boil:"job_search_id"`
	CertificateIssuanceID null.Int  `boil:"certificate_issuance_id"`
	Resend                bool      `boil:"resend"`
	Category              string    `boil:"category"`
	CreatedAt             time.Time `boil:"created_at"`
}

type notificationRepository struct {
	db core.DB
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db core.DB) *notificationRepository {
	return &notificationRepository{db: db}
}

// subjectColumn returns the id column of the subject's kind.
func subjectColumn(s notification.Subject) string {
	if s.Kind == notification.SubjectJobSearch {
		return "job_search_id"
	}
	return "certificate_issuance_id"
}

func (repo notificationRepository) unboil(r notificationRow) notification.Notification {
	n := notification.Notification{
		ID:          r.ID,
		RecipientID: r.RecipientID,
		Resend:      r.Resend,
		Category:    notification.Category(r.Category),
		CreatedAt:   r.CreatedAt,
	}
	if r.JobSearchID.Valid {
		n.Subject = notification.JobSearch(r.JobSearchID.Int)
	} else {
		n.Subject = notification.Certificate(r.CertificateIssuanceID.Int)
	}
	return n
}

// ReplaceNotification deletes then inserts in one transaction.
func (repo notificationRepository) ReplaceNotification(ctx context.Context, n notification.Notification, first bool) (notification.Notification, int, error) {
	col := subjectColumn(n.Subject)
	jobSearchID := null.NewInt(n.Subject.ID, n.Subject.Kind == notification.SubjectJobSearch)
	issuanceID := null.NewInt(n.Subject.ID, n.Subject.Kind == notification.SubjectCertificate)

	var deleted int64
	err := core.InTx(ctx, repo.db, func(tx core.DBExecutor) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM notification WHERE recipient_id = $1 AND "+col+" = $2",
			n.RecipientID, n.Subject.ID)
		if err != nil {
			return errors.Wrap(err, "deleting stale notification")
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return errors.Wrap(err, "counting stale notifications")
		}
		n.Resend = deleted > 0 && !first
		row := tx.QueryRowContext(ctx, `
			INSERT INTO notification (recipient_id, job_search_id, certificate_issuance_id, resend, category, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			n.RecipientID, jobSearchID, issuanceID, n.Resend, string(n.Category), n.CreatedAt.UTC(),
		)
		return errors.Wrap(row.Scan(&n.ID), "inserting notification")
	})
	if err != nil {
		return notification.Notification{}, 0, err
	}
	return n, int(deleted), nil
}

func (repo notificationRepository) DeleteNotifications(ctx context.Context, subject notification.Subject, recipientIDs ...int) (int, error) {
	q := "DELETE FROM notification WHERE " + subjectColumn(subject) + " = $1"
	args := []interface{}{subject.ID}
	if len(recipientIDs) > 0 {
		ids := make([]int64, len(recipientIDs))
		for i, id := range recipientIDs {
			ids[i] = int64(id)
		}
		q += " AND recipient_id = ANY($2)"
		args = append(args, pq.Int64Array(ids))
	}

	res, err := repo.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting notifications")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "reading affected rows")
	}
	return int(n), nil
}

func (repo notificationRepository) CountNotifications(ctx context.Context, filter notification.Filter) (int, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.RecipientID != 0 {
		where = append(where, "recipient_id = "+arg(filter.RecipientID))
	}
	if filter.Subject != nil {
		where = append(where, subjectColumn(*filter.Subject)+" = "+arg(filter.Subject.ID))
	}
	q := "SELECT COUNT(*) AS count FROM notification"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}

	var res struct {
		Count int `boil:"count"`
	}
	if err := queries.Raw(q, args...).Bind(ctx, repo.db, &res); err != nil {
		return 0, errors.Wrap(err, "counting notifications")
	}
	return res.Count, nil
}

func (repo notificationRepository) QueryNotifications(ctx context.Context, recipientID int) ([]notification.Notification, error) {
	var rows []notificationRow
	err := queries.Raw(`
		SELECT id, recipient_id, job_search_id, certificate_issuance_id, resend, category, created_at
		FROM notification WHERE recipient_id = $1 ORDER BY created_at DESC, id DESC`,
		recipientID,
	).Bind(ctx, repo.db, &rows)
	if err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}
	ns := make([]notification.Notification, 0, len(rows))
	for _, r := range rows {
		ns = append(ns, repo.unboil(r))
	}
	return ns, nil
}
