// Package inmemdb holds in-memory repositories, for tests and database-less dev runs.
package inmemdb

import (
	"sync"

	"github.com/trezcool/karani/core/certificate"
	"github.com/trezcool/karani/core/jobsearch"
	"github.com/trezcool/karani/core/notification"
	"github.com/trezcool/karani/core/user"
)

type (
	DB struct {
		user         *userTable
		certificate  *certificateTable
		notification *notificationTable
		jobSearch    *jobSearchTable
	}

	userTable struct {
		mutex sync.RWMutex
		pk    int
		table map[int]*user.User
	}

	certificateTable struct {
		mutex sync.RWMutex
		pk    int
		types map[int]certificate.CertificateType
		table map[int]*certificate.Issuance
	}

	notificationTable struct {
		mutex sync.RWMutex
		pk    int
		table map[int]notification.Notification
	}

	jobSearchTable struct {
		mutex      sync.RWMutex
		pk         int
		table      map[int]*jobsearch.Application
		exams      map[int]jobsearch.ExamReport
		activities map[int]jobsearch.ActivityReport
	}
)

func Open() *DB {
	return &DB{
		user: &userTable{table: make(map[int]*user.User)},
		certificate: &certificateTable{
			types: make(map[int]certificate.CertificateType),
			table: make(map[int]*certificate.Issuance),
		},
		notification: &notificationTable{table: make(map[int]notification.Notification)},
		jobSearch: &jobSearchTable{
			table:      make(map[int]*jobsearch.Application),
			exams:      make(map[int]jobsearch.ExamReport),
			activities: make(map[int]jobsearch.ActivityReport),
		},
	}
}
