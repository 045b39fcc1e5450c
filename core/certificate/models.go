package certificate

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/karani/core"
)

type Status int

const (
	StatusPendingTeacherApproval Status = iota
	StatusPendingPayment
	StatusReturned
	StatusPendingIssuance
	StatusIssued
	StatusPendingReceipt
	StatusComplete
)

var AllStatuses = []Status{
	StatusPendingTeacherApproval, StatusPendingPayment, StatusReturned, StatusPendingIssuance,
	StatusIssued, StatusPendingReceipt, StatusComplete,
}

func (s Status) Valid() bool { return s >= StatusPendingTeacherApproval && s <= StatusComplete }

// MediaKind is how the certificate reaches the student. It is stored as a raw string:
// unrecognized values can exist in the store and are rejected when issuing.
type MediaKind string

const (
	MediaPaper      MediaKind = "paper"
	MediaElectronic MediaKind = "electronic"
	MediaMail       MediaKind = "mail"
)

var AllMediaKinds = []MediaKind{MediaPaper, MediaElectronic, MediaMail}

func (m MediaKind) Valid() bool {
	switch m {
	case MediaPaper, MediaElectronic, MediaMail:
		return true
	}
	return false
}

type Action int

const (
	ActionApprove Action = iota + 1
	ActionWithdrawOrReturn
	ActionReceipt
	ActionIssue
	ActionSend
	ActionComplete
)

var AllActions = []Action{
	ActionApprove, ActionWithdrawOrReturn, ActionReceipt, ActionIssue, ActionSend, ActionComplete,
}

// Actor is the user performing an action.
type Actor struct {
	UserID int
}

// MailRecipient is where a mailed certificate is posted to.
type MailRecipient struct {
	Name     string `json:"name" validate:"required,notblank"`
	NameKana string `json:"name_kana" validate:"required,notblank,katakana"`
	Zip      string `json:"zip" validate:"required,zipcode"`
	Address  string `json:"address" validate:"required,notblank"`
}

type CertificateType struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	UnitFee    int    `json:"unit_fee"`
	UnitWeight int    `json:"unit_weight"`
}

type Line struct {
	CertificateTypeID int `json:"certificate_type_id" validate:"required,min=1"`
	Quantity          int `json:"quantity" validate:"required,min=1"`
}

type Issuance struct {
	ID              int            `json:"id"`
	StudentID       int            `json:"student_id"`
	Status          Status         `json:"status"`
	Media           MediaKind      `json:"media"`
	ApplicationDate time.Time      `json:"application_date"`
	ApprovalDate    *time.Time     `json:"approval_date"`
	DeliveryDate    *time.Time     `json:"delivery_date"` // paper: delivery due
	PostDate        *time.Time     `json:"post_date"`     // mail
	SendDate        *time.Time     `json:"send_date"`     // electronic
	OfficeUserID    int            `json:"office_user_id,omitempty"`
	TotalFee        *int           `json:"total_fee"`
	Recipient       *MailRecipient `json:"recipient,omitempty"` // only when Media == MediaMail
	Lines           []Line         `json:"lines,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Transition is a compare-and-set status write, with the subsidiary fields set along.
type Transition struct {
	IssuanceID   int
	From         Status
	To           Status
	ApprovalDate *time.Time
	DeliveryDate *time.Time
	PostDate     *time.Time
	SendDate     *time.Time
	TotalFee     *int
	OfficeUserID *int
}

// NewIssuance contains information needed to file a new certificate request.
type NewIssuance struct {
	StudentID int            `json:"student_id" validate:"required,min=1"`
	Media     MediaKind      `json:"media" validate:"required,oneof=paper electronic mail"`
	Recipient *MailRecipient `json:"recipient"`
	Lines     []Line         `json:"lines" validate:"required,min=1,dive"`
}

func (ni *NewIssuance) Validate(validate *validator.Validate) error {
	if ni.Recipient != nil {
		ni.Recipient.Zip = core.CleanZipCode(ni.Recipient.Zip)
	}
	if err := validate.Struct(ni); err != nil {
		return err
	}
	if (ni.Media == MediaMail) != (ni.Recipient != nil) {
		return core.NewValidationError(ErrRecipientMismatch, core.FieldError{Field: "recipient", Error: ErrRecipientMismatch.Error()})
	}
	return nil
}

type QueryFilter struct {
	StudentID    int
	OfficeUserID int
	Statuses     []Status
}

// Summary is a dashboard row: an issuance with its aggregated fee & weight.
type Summary struct {
	Issuance Issuance `json:"issuance"`
	Totals   Totals   `json:"totals"`
}
