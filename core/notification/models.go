package notification

import (
	"encoding/json"
	"fmt"
	"time"
)

type SubjectKind string

const (
	SubjectJobSearch   SubjectKind = "job_search"
	SubjectCertificate SubjectKind = "certificate"
)

// Subject is the workflow item a Notification is about: a job-search application XOR a certificate issuance.
type Subject struct {
	Kind SubjectKind
	ID   int
}

func JobSearch(id int) Subject   { return Subject{Kind: SubjectJobSearch, ID: id} }
func Certificate(id int) Subject { return Subject{Kind: SubjectCertificate, ID: id} }

func (s Subject) Valid() bool {
	return (s.Kind == SubjectJobSearch || s.Kind == SubjectCertificate) && s.ID > 0
}

func (s Subject) String() string { return fmt.Sprintf("%s:%d", s.Kind, s.ID) }

// Path is the frontend path of the subject.
func (s Subject) Path() string {
	if s.Kind == SubjectJobSearch {
		return fmt.Sprintf("job-searches/%d", s.ID)
	}
	return fmt.Sprintf("certificates/%d", s.ID)
}

// Category tags what the recipient is expected to do.
type Category string

const (
	CategoryApproval       Category = "approval"
	CategoryRosterChecked  Category = "roster_checked"
	CategoryReturned       Category = "returned"
	CategoryPayment        Category = "payment"
	CategoryIssuance       Category = "issuance"
	CategoryIssued         Category = "issued"
	CategoryReceipt        Category = "receipt"
	CategoryExamReport     Category = "exam_report"
	CategoryExamApproval   Category = "exam_approval"
	CategoryActivityReport Category = "activity_report"
	CategoryReportApproval Category = "report_approval"
)

var AllCategories = []Category{
	CategoryApproval, CategoryRosterChecked, CategoryReturned, CategoryPayment, CategoryIssuance,
	CategoryIssued, CategoryReceipt, CategoryExamReport, CategoryExamApproval, CategoryActivityReport,
	CategoryReportApproval,
}

type Notification struct {
	ID          int
	RecipientID int
	Subject     Subject
	Resend      bool
	Category    Category
	CreatedAt   time.Time // UTC
}

type notificationJSON struct {
	ID          int       `json:"id"`
	RecipientID int       `json:"recipient_id"`
	JobSearchID *int      `json:"job_search_id"`
	IssuanceID  *int      `json:"certificate_issuance_id"`
	Resend      bool      `json:"resend"`
	Category    Category  `json:"category"`
	CreatedAt   time.Time `json:"created_at"`
}

// MarshalJSON flattens the Subject into its two mutually exclusive id fields.
func (n Notification) MarshalJSON() ([]byte, error) {
	nj := notificationJSON{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Resend:      n.Resend,
		Category:    n.Category,
		CreatedAt:   n.CreatedAt,
	}
	id := n.Subject.ID
	switch n.Subject.Kind {
	case SubjectJobSearch:
		nj.JobSearchID = &id
	case SubjectCertificate:
		nj.IssuanceID = &id
	}
	return json.Marshal(nj)
}

// Notice is a request to (re)notify one recipient about a subject.
type Notice struct {
	Subject     Subject
	RecipientID int
	Category    Category
	// First forces a first notice even when it supersedes one for the same pair.
	First bool
}

// Filter narrows Count queries; zero fields are ignored.
type Filter struct {
	RecipientID int
	Subject     *Subject
}
