package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/karani/core/notification"
)

type notificationRepository struct {
	db *notificationTable
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *DB) *notificationRepository {
	return &notificationRepository{db: db.notification}
}

// ReplaceNotification deletes then inserts under one lock hold.
func (repo *notificationRepository) ReplaceNotification(_ context.Context, n notification.Notification, first bool) (notification.Notification, int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var deleted int
	for id, old := range repo.db.table {
		if old.Subject == n.Subject && old.RecipientID == n.RecipientID {
			delete(repo.db.table, id)
			deleted++
		}
	}
	n.Resend = deleted > 0 && !first
	repo.db.pk++
	n.ID = repo.db.pk
	repo.db.table[n.ID] = n
	return n, deleted, nil
}

func (repo *notificationRepository) DeleteNotifications(_ context.Context, subject notification.Subject, recipientIDs ...int) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	recipients := make(map[int]bool, len(recipientIDs))
	for _, id := range recipientIDs {
		recipients[id] = true
	}

	var cnt int
	for id, n := range repo.db.table {
		if n.Subject != subject {
			continue
		}
		if len(recipients) > 0 && !recipients[n.RecipientID] {
			continue
		}
		delete(repo.db.table, id)
		cnt++
	}
	return cnt, nil
}

func (repo *notificationRepository) CountNotifications(_ context.Context, filter notification.Filter) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var cnt int
	for _, n := range repo.db.table {
		if filter.RecipientID != 0 && n.RecipientID != filter.RecipientID {
			continue
		}
		if filter.Subject != nil && n.Subject != *filter.Subject {
			continue
		}
		cnt++
	}
	return cnt, nil
}

// QueryNotifications returns the recipient's notifications, newest first.
func (repo *notificationRepository) QueryNotifications(_ context.Context, recipientID int) ([]notification.Notification, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	ns := make([]notification.Notification, 0)
	for _, n := range repo.db.table {
		if n.RecipientID == recipientID {
			ns = append(ns, n)
		}
	}
	sort.Slice(ns, func(i, j int) bool { return ns[i].ID > ns[j].ID })
	return ns, nil
}
