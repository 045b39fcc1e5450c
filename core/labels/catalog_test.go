package labels

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/trezcool/karani/core/certificate"
	"github.com/trezcool/karani/core/jobsearch"
	"github.com/trezcool/karani/core/notification"
)

func TestCatalogRoundTrip(t *testing.T) {
	c := NewCatalog()

	for _, s := range jobsearch.AllStatuses {
		label := c.JobSearchStatus(s)
		if label == "" {
			t.Errorf("job-search status %d has no label", s)
			continue
		}
		got, err := c.ParseJobSearchStatus(label)
		if err != nil || got != s {
			t.Errorf("ParseJobSearchStatus(%q) = %d, %v; want %d", label, got, err, s)
		}
	}
	for _, s := range certificate.AllStatuses {
		got, err := c.ParseCertificateStatus(c.CertificateStatus(s))
		if err != nil || got != s {
			t.Errorf("certificate status %d round trip = %d, %v", s, got, err)
		}
	}
	for _, e := range jobsearch.AllEventCategories {
		got, err := c.ParseEventCategory(c.EventCategory(e))
		if err != nil || got != e {
			t.Errorf("event category %d round trip = %d, %v", e, got, err)
		}
	}
	for _, m := range certificate.AllMediaKinds {
		got, err := c.ParseMedia(c.Media(m))
		if err != nil || got != m {
			t.Errorf("media %q round trip = %q, %v", m, got, err)
		}
	}
	for _, cat := range notification.AllCategories {
		if c.NotificationCategory(cat) == string(cat) {
			t.Errorf("notification category %q has no label", cat)
		}
	}
}

func TestCatalogUnknown(t *testing.T) {
	c := NewCatalog()

	if _, err := c.ParseJobSearchStatus("nope"); errors.Cause(err) != ErrUnknownLabel {
		t.Errorf("ParseJobSearchStatus(nope) err = %v, want %v", err, ErrUnknownLabel)
	}
	if got := c.Media("fax"); got != "" {
		t.Errorf("Media(fax) = %q, want empty", got)
	}
	if got := c.NotificationCategory("other"); got != "other" {
		t.Errorf("NotificationCategory(other) = %q, want the raw tag", got)
	}
}
