// Package labels maps workflow codes to the labels shown to users, and back.
package labels

import (
	"github.com/pkg/errors"

	"github.com/trezcool/karani/core/certificate"
	"github.com/trezcool/karani/core/jobsearch"
	"github.com/trezcool/karani/core/notification"
)

var ErrUnknownLabel = errors.New("unknown label")

// Catalog is immutable once built; share it freely.
type Catalog struct {
	jobStatuses  biMap[jobsearch.Status]
	certStatuses biMap[certificate.Status]
	events       biMap[jobsearch.EventCategory]
	media        biMap[certificate.MediaKind]
	categories   map[notification.Category]string
}

type biMap[K comparable] struct {
	labels map[K]string
	codes  map[string]K
}

func newBiMap[K comparable](labels map[K]string) biMap[K] {
	m := biMap[K]{labels: labels, codes: make(map[string]K, len(labels))}
	for code, label := range labels {
		m.codes[label] = code
	}
	return m
}

func (m biMap[K]) code(label string) (K, error) {
	code, ok := m.codes[label]
	if !ok {
		return code, errors.Wrapf(ErrUnknownLabel, "%q", label)
	}
	return code, nil
}

func NewCatalog() *Catalog {
	return &Catalog{
		jobStatuses: newBiMap(map[jobsearch.Status]string{
			jobsearch.StatusDeleted:                    "削除済",
			jobsearch.StatusPendingTeacherApproval:     "担任承認待ち",
			jobsearch.StatusPendingCourseStaffApproval: "進路指導部承認待ち",
			jobsearch.StatusApplicationReturned:        "申請差戻し",
			jobsearch.StatusPendingExamReport:          "受験報告待ち",
			jobsearch.StatusPendingExamApproval:        "受験報告承認待ち",
			jobsearch.StatusExamReportReturned:         "受験報告差戻し",
			jobsearch.StatusPendingActivityReport:      "活動報告待ち",
			jobsearch.StatusPendingReportApproval:      "活動報告承認待ち",
			jobsearch.StatusComplete:                   "完了",
			jobsearch.StatusReportReturned:             "活動報告差戻し",
		}),
		certStatuses: newBiMap(map[certificate.Status]string{
			certificate.StatusPendingTeacherApproval: "担任承認待ち",
			certificate.StatusPendingPayment:         "支払い待ち",
			certificate.StatusReturned:               "差戻し",
			certificate.StatusPendingIssuance:        "発行待ち",
			certificate.StatusIssued:                 "発行済",
			certificate.StatusPendingReceipt:         "受取待ち",
			certificate.StatusComplete:               "完了",
		}),
		events: newBiMap(map[jobsearch.EventCategory]string{
			jobsearch.EventBriefing:      "説明会",
			jobsearch.EventExam:          "試験",
			jobsearch.EventOfferCeremony: "内定式",
			jobsearch.EventInternship:    "インターンシップ",
			jobsearch.EventOther:         "その他",
		}),
		media: newBiMap(map[certificate.MediaKind]string{
			certificate.MediaPaper:      "紙",
			certificate.MediaElectronic: "電子",
			certificate.MediaMail:       "郵送",
		}),
		categories: map[notification.Category]string{
			notification.CategoryApproval:       "承認依頼",
			notification.CategoryRosterChecked:  "名簿確認済",
			notification.CategoryReturned:       "差戻し",
			notification.CategoryPayment:        "支払い依頼",
			notification.CategoryIssuance:       "発行依頼",
			notification.CategoryIssued:         "発行完了",
			notification.CategoryReceipt:        "受取依頼",
			notification.CategoryExamReport:     "受験報告依頼",
			notification.CategoryExamApproval:   "受験報告承認依頼",
			notification.CategoryActivityReport: "活動報告依頼",
			notification.CategoryReportApproval: "活動報告承認依頼",
		},
	}
}

var _ notification.Labeler = (*Catalog)(nil)

func (c *Catalog) JobSearchStatus(s jobsearch.Status) string { return c.jobStatuses.labels[s] }

// ParseJobSearchStatus normalizes a status label into its code.
func (c *Catalog) ParseJobSearchStatus(label string) (jobsearch.Status, error) {
	return c.jobStatuses.code(label)
}

func (c *Catalog) CertificateStatus(s certificate.Status) string { return c.certStatuses.labels[s] }

func (c *Catalog) ParseCertificateStatus(label string) (certificate.Status, error) {
	return c.certStatuses.code(label)
}

func (c *Catalog) EventCategory(e jobsearch.EventCategory) string { return c.events.labels[e] }

func (c *Catalog) ParseEventCategory(label string) (jobsearch.EventCategory, error) {
	return c.events.code(label)
}

// Media returns "" for unknown media kinds.
func (c *Catalog) Media(m certificate.MediaKind) string { return c.media.labels[m] }

func (c *Catalog) ParseMedia(label string) (certificate.MediaKind, error) {
	return c.media.code(label)
}

func (c *Catalog) NotificationCategory(cat notification.Category) string {
	if label, ok := c.categories[cat]; ok {
		return label
	}
	return string(cat)
}
