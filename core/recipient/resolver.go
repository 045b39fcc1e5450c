// Package recipient resolves who must act on a workflow item: the student, their homeroom
// teacher, the course staff or the office staff.
package recipient

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/karani/core/user"
)

// ErrNoHomeroomTeacher is returned when a student has no homeroom teacher assigned.
var ErrNoHomeroomTeacher = errors.New("student has no homeroom teacher")

type (
	// Directory is the user/role lookup the resolver is backed by (user.Service implements it).
	Directory interface {
		FindHomeroomTeacher(ctx context.Context, studentID int) (int, error)
		ListUserIDsByRole(ctx context.Context, role string) ([]int, error)
		DisplayName(ctx context.Context, userID int) (string, error)
	}

	Resolver struct {
		dir Directory
	}
)

var _ Directory = (*user.Service)(nil)

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// HomeroomTeacher returns the homeroom teacher of the student.
func (r *Resolver) HomeroomTeacher(ctx context.Context, studentID int) (int, error) {
	id, err := r.dir.FindHomeroomTeacher(ctx, studentID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return 0, ErrNoHomeroomTeacher
		}
		return 0, errors.Wrap(err, "finding homeroom teacher")
	}
	if id == 0 {
		return 0, ErrNoHomeroomTeacher
	}
	return id, nil
}

// Office returns every office-staff user.
func (r *Resolver) Office(ctx context.Context) ([]int, error) {
	ids, err := r.dir.ListUserIDsByRole(ctx, user.RoleStaffOffice)
	return ids, errors.Wrap(err, "listing office staff")
}

// CourseStaff returns every course-staff user.
func (r *Resolver) CourseStaff(ctx context.Context) ([]int, error) {
	ids, err := r.dir.ListUserIDsByRole(ctx, user.RoleStaffCourse)
	return ids, errors.Wrap(err, "listing course staff")
}

// DisplayName returns the user's name, or "" when the user is unknown.
func (r *Resolver) DisplayName(ctx context.Context, userID int) (string, error) {
	name, err := r.dir.DisplayName(ctx, userID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return "", nil
		}
		return "", errors.Wrap(err, "getting display name")
	}
	return name, nil
}
