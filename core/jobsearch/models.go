package jobsearch

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/karani/core"
)

type Status int

const (
	StatusDeleted Status = 0

	// application
	StatusPendingTeacherApproval     Status = 11
	StatusPendingCourseStaffApproval Status = 12
	StatusApplicationReturned        Status = 13

	// exam report
	StatusPendingExamReport   Status = 21
	StatusPendingExamApproval Status = 22
	StatusExamReportReturned  Status = 23

	// activity report
	StatusPendingActivityReport Status = 31
	StatusPendingReportApproval Status = 32
	StatusComplete              Status = 33
	StatusReportReturned        Status = 34
)

var AllStatuses = []Status{
	StatusDeleted,
	StatusPendingTeacherApproval, StatusPendingCourseStaffApproval, StatusApplicationReturned,
	StatusPendingExamReport, StatusPendingExamApproval, StatusExamReportReturned,
	StatusPendingActivityReport, StatusPendingReportApproval, StatusComplete, StatusReportReturned,
}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// EventCategory is the kind of job-search event. Briefings expect no exam report.
type EventCategory int

const (
	EventBriefing EventCategory = iota + 1
	EventExam
	EventOfferCeremony
	EventInternship
	EventOther
)

var AllEventCategories = []EventCategory{EventBriefing, EventExam, EventOfferCeremony, EventInternship, EventOther}

type Action int

const (
	ActionApprove Action = iota
	ActionWithdraw
	ActionReturn
	ActionCourseStaffApprove
)

type Application struct {
	ID            int           `json:"id"`
	StudentID     int           `json:"student_id"`
	Status        Status        `json:"status"`
	Category      EventCategory `json:"category"`
	CompanyName   string        `json:"company_name"`
	StartsAt      time.Time     `json:"starts_at"`
	EndsAt        time.Time     `json:"ends_at"`
	Location      string        `json:"location"`
	Attended      bool          `json:"attended"`
	RosterChecked bool          `json:"roster_checked"`
	Remarks       string        `json:"remarks"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type ExamReport struct {
	JobSearchID int       `json:"job_search_id" validate:"required,min=1"`
	ExamKinds   string    `json:"exam_kinds" validate:"required,notblank"`
	Content     string    `json:"content" validate:"required,notblank"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (r *ExamReport) Validate(validate *validator.Validate) error {
	r.ExamKinds = core.CleanString(r.ExamKinds)
	return validate.Struct(r)
}

type ActivityReport struct {
	JobSearchID int       `json:"job_search_id" validate:"required,min=1"`
	Impressions string    `json:"impressions" validate:"required,notblank"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (r *ActivityReport) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

// Command is a request to apply Action to an application.
// ExpectedStatus, when set, must match the stored status.
type Command struct {
	JobSearchID          int
	Action               Action
	SchoolCheckRequested bool
	ExpectedStatus       *Status
}

// NewApplication contains information needed to file a new job-search application.
type NewApplication struct {
	StudentID   int           `json:"student_id" validate:"required,min=1"`
	Category    EventCategory `json:"category" validate:"required,min=1,max=5"`
	CompanyName string        `json:"company_name" validate:"required,notblank"`
	StartsAt    time.Time     `json:"starts_at" validate:"required"`
	EndsAt      time.Time     `json:"ends_at" validate:"required,gtefield=StartsAt"`
	Location    string        `json:"location"`
	Remarks     string        `json:"remarks"`
}

func (na *NewApplication) Validate(validate *validator.Validate) error {
	na.CompanyName = core.CleanString(na.CompanyName)
	na.Location = core.CleanString(na.Location)
	return validate.Struct(na)
}

// QueryFilter narrows dashboard queries; zero fields are ignored.
// Deleted applications are never returned.
type QueryFilter struct {
	StudentID int
	Statuses  []Status
}
