package boiledrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/karani/core"
	"github.com/trezcool/karani/core/certificate"
)

const issuanceColumns = `id, student_id, status, media, application_date, approval_date, delivery_date,
	post_date, send_date, office_user_id, total_fee, recipient_name, recipient_name_kana, recipient_zip,
	recipient_address, created_at, updated_at`

type issuanceRow struct {
	ID                int         `boil:"id"`
	StudentID         int         `boil:"student_id"`
	Status            int         `boil:"status"`
	Media             string      `boil:"media"`
	ApplicationDate   time.Time   `boil:"application_date"`
	ApprovalDate      null.Time   `boil:"approval_date"`
	DeliveryDate      null.Time   `boil:"delivery_date"`
	PostDate          null.Time   `boil:"post_date"`
	SendDate          null.Time   `boil:"send_date"`
	OfficeUserID      null.Int    `boil:"office_user_id"`
	TotalFee          null.Int    `boil:"total_fee"`
	RecipientName     null.String `boil:"recipient_name"`
	RecipientNameKana null.String `boil:"recipient_name_kana"`
	RecipientZip      null.String `boil:"recipient_zip"`
	RecipientAddress  null.String `boil:"recipient_address"`
	CreatedAt         time.Time   `boil:"created_at"`
	UpdatedAt         time.Time   `boil:"updated_at"`
}

type lineRow struct {
	IssuanceID        int      `boil:"issuance_id"`
	CertificateTypeID int      `boil:"certificate_type_id"`
	Quantity          int      `boil:"quantity"`
	UnitWeight        null.Int `boil:"unit_weight"`
	UnitFee           null.Int `boil:"unit_fee"`
	PartialFee        null.Int `boil:"partial_fee"`
}

type certificateRepository struct {
	db core.DB
}

var _ certificate.Repository = (*certificateRepository)(nil) // interface compliance check

func NewCertificateRepository(db core.DB) *certificateRepository {
	return &certificateRepository{db: db}
}

func (repo certificateRepository) unboil(r issuanceRow) certificate.Issuance {
	iss := certificate.Issuance{
		ID:              r.ID,
		StudentID:       r.StudentID,
		Status:          certificate.Status(r.Status),
		Media:           certificate.MediaKind(r.Media),
		ApplicationDate: r.ApplicationDate,
		ApprovalDate:    r.ApprovalDate.Ptr(),
		DeliveryDate:    r.DeliveryDate.Ptr(),
		PostDate:        r.PostDate.Ptr(),
		SendDate:        r.SendDate.Ptr(),
		OfficeUserID:    r.OfficeUserID.Int,
		TotalFee:        r.TotalFee.Ptr(),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.RecipientName.Valid {
		iss.Recipient = &certificate.MailRecipient{
			Name:     r.RecipientName.String,
			NameKana: r.RecipientNameKana.String,
			Zip:      r.RecipientZip.String,
			Address:  r.RecipientAddress.String,
		}
	}
	return iss
}

// trapNoRowsErr maps psql "no rows" err to certificate.ErrNotFound
func (repo certificateRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return certificate.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo certificateRepository) CreateIssuance(ctx context.Context, iss certificate.Issuance) (certificate.Issuance, error) {
	var rcpt certificate.MailRecipient
	if iss.Recipient != nil {
		rcpt = *iss.Recipient
	}
	has := iss.Recipient != nil

	err := core.InTx(ctx, repo.db, func(tx core.DBExecutor) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO certificate_issuance (student_id, status, media, application_date, recipient_name,
				recipient_name_kana, recipient_zip, recipient_address, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id`,
			iss.StudentID, int(iss.Status), string(iss.Media), iss.ApplicationDate.UTC(),
			null.NewString(rcpt.Name, has), null.NewString(rcpt.NameKana, has),
			null.NewString(rcpt.Zip, has), null.NewString(rcpt.Address, has),
			iss.CreatedAt.UTC(), iss.UpdatedAt.UTC(),
		)
		if err := row.Scan(&iss.ID); err != nil {
			return errors.Wrap(err, "inserting issuance")
		}
		for _, l := range iss.Lines {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO certificate_line (issuance_id, certificate_type_id, quantity) VALUES ($1, $2, $3)",
				iss.ID, l.CertificateTypeID, l.Quantity)
			if err != nil {
				return errors.Wrap(err, "inserting certificate line")
			}
		}
		return nil
	})
	if err != nil {
		return certificate.Issuance{}, err
	}
	return iss, nil
}

func (repo certificateRepository) GetIssuance(ctx context.Context, id int) (certificate.Issuance, error) {
	var r issuanceRow
	q := fmt.Sprintf("SELECT %s FROM certificate_issuance WHERE id = $1", issuanceColumns)
	if err := queries.Raw(q, id).Bind(ctx, repo.db, &r); err != nil {
		return certificate.Issuance{}, repo.trapNoRowsErr(err, "finding issuance")
	}
	iss := repo.unboil(r)

	var lines []struct {
		CertificateTypeID int `boil:"certificate_type_id"`
		Quantity          int `boil:"quantity"`
	}
	err := queries.Raw("SELECT certificate_type_id, quantity FROM certificate_line WHERE issuance_id = $1 ORDER BY id", id).
		Bind(ctx, repo.db, &lines)
	if err != nil {
		return certificate.Issuance{}, errors.Wrap(err, "querying certificate lines")
	}
	for _, l := range lines {
		iss.Lines = append(iss.Lines, certificate.Line{CertificateTypeID: l.CertificateTypeID, Quantity: l.Quantity})
	}
	return iss, nil
}

func (repo certificateRepository) QueryIssuances(ctx context.Context, filter certificate.QueryFilter) ([]certificate.Issuance, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.StudentID != 0 {
		where = append(where, "student_id = "+arg(filter.StudentID))
	}
	if filter.OfficeUserID != 0 {
		where = append(where, "office_user_id = "+arg(filter.OfficeUserID))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]int64, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = int64(s)
		}
		where = append(where, "status = ANY("+arg(pq.Int64Array(statuses))+")")
	}

	q := fmt.Sprintf("SELECT %s FROM certificate_issuance", issuanceColumns)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"

	var rows []issuanceRow
	if err := queries.Raw(q, args...).Bind(ctx, repo.db, &rows); err != nil {
		return nil, errors.Wrap(err, "querying issuances")
	}
	issuances := make([]certificate.Issuance, 0, len(rows))
	for _, r := range rows {
		issuances = append(issuances, repo.unboil(r))
	}
	return issuances, nil
}

// QueryLineRows groups lines per (issuance, type); types are outer-joined so dangling lines
// come back with null unit columns.
func (repo certificateRepository) QueryLineRows(ctx context.Context, issuanceIDs ...int) ([]certificate.LineRow, error) {
	if len(issuanceIDs) == 0 {
		return []certificate.LineRow{}, nil
	}
	ids := make([]int64, len(issuanceIDs))
	for i, id := range issuanceIDs {
		ids[i] = int64(id)
	}

	var rows []lineRow
	err := queries.Raw(`
		SELECT l.issuance_id, l.certificate_type_id, SUM(l.quantity) AS quantity,
			ct.unit_weight, ct.unit_fee, SUM(l.quantity * ct.unit_fee) AS partial_fee
		FROM certificate_line l
		LEFT JOIN certificate_type ct ON ct.id = l.certificate_type_id
		WHERE l.issuance_id = ANY($1)
		GROUP BY l.issuance_id, l.certificate_type_id, ct.unit_weight, ct.unit_fee
		ORDER BY l.issuance_id, l.certificate_type_id`,
		pq.Int64Array(ids),
	).Bind(ctx, repo.db, &rows)
	if err != nil {
		return nil, errors.Wrap(err, "querying certificate lines")
	}

	out := make([]certificate.LineRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, certificate.LineRow{
			IssuanceID:        r.IssuanceID,
			CertificateTypeID: r.CertificateTypeID,
			Quantity:          r.Quantity,
			UnitWeight:        r.UnitWeight.Int,
			UnitFee:           r.UnitFee.Int,
			PartialFee:        r.PartialFee.Int,
			Known:             r.UnitWeight.Valid && r.UnitFee.Valid,
		})
	}
	return out, nil
}

func (repo certificateRepository) TransitionIssuance(ctx context.Context, t certificate.Transition) error {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE certificate_issuance SET
			status = $1,
			approval_date = COALESCE($2, approval_date),
			delivery_date = COALESCE($3, delivery_date),
			post_date = COALESCE($4, post_date),
			send_date = COALESCE($5, send_date),
			total_fee = COALESCE($6, total_fee),
			office_user_id = COALESCE($7, office_user_id),
			updated_at = $8
		WHERE id = $9 AND status = $10`,
		int(t.To),
		null.TimeFromPtr(t.ApprovalDate), null.TimeFromPtr(t.DeliveryDate),
		null.TimeFromPtr(t.PostDate), null.TimeFromPtr(t.SendDate),
		null.IntFromPtr(t.TotalFee), null.IntFromPtr(t.OfficeUserID),
		time.Now().UTC(),
		t.IssuanceID, int(t.From),
	)
	if err != nil {
		return errors.Wrap(err, "updating issuance status")
	}
	return checkAffected(res, "issuance %d is not at status %d", t.IssuanceID, t.From)
}

// checkAffected returns core.ErrPrecondition when res affected no rows.
func checkAffected(res sql.Result, format string, args ...interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading affected rows")
	}
	if n == 0 {
		return errors.Wrapf(core.ErrPrecondition, format, args...)
	}
	return nil
}
