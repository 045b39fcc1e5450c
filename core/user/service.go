package user

import (
	"context"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/karani/core"
)

var (
	// errors
	ErrNotFound       = errors.New("user not found")
	ErrEmailExists    = errors.New("a user with this email already exists")
	ErrUsernameExists = errors.New("a user with this username already exists")
	ErrNotAStudent    = errors.New("user is not a student")
	ErrNotATeacher    = errors.New("user is not a teacher")
)

type (
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		// QueryUserIDsByRole returns the IDs of active users holding the exact role.
		QueryUserIDsByRole(ctx context.Context, role string) ([]int, error)
		// GetHomeroomTeacherID returns ErrNotFound when the student has none assigned.
		GetHomeroomTeacherID(ctx context.Context, studentID int) (int, error)
		SetHomeroomTeacher(ctx context.Context, studentID, teacherID int) error
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) CheckUniqueness(uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(context.Background(), uname, email, exclUsers...); err != nil {
		var field string
		switch err {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		Name:       nu.Name,
		Username:   nu.Username,
		Email:      nu.Email,
		IsActive:   true,
		Roles:      nu.Roles,
		HomeroomID: nu.HomeroomID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *Service) GetByID(ctx context.Context, id int) (User, error) {
	if err := vala.BeginValidation().Validate(vala.GreaterThan(id, 0, "id")).Check(); err != nil {
		return User{}, errors.Wrap(core.ErrInvalidArgument, err.Error())
	}
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	uname = core.CleanString(uname, true /* lower */)
	return svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: []string{uname}})
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	now := time.Now().UTC()
	usr.LastLogin = now
	usr.UpdatedAt = now
	return svc.repo.UpdateUser(ctx, usr)
}

// AssignHomeroom makes teacherID the homeroom teacher of studentID.
func (svc *Service) AssignHomeroom(ctx context.Context, studentID, teacherID int) error {
	student, err := svc.GetByID(ctx, studentID)
	if err != nil {
		return errors.Wrap(err, "getting student")
	}
	if !student.IsStudent() {
		return ErrNotAStudent
	}
	teacher, err := svc.GetByID(ctx, teacherID)
	if err != nil {
		return errors.Wrap(err, "getting teacher")
	}
	if !teacher.IsTeacher() {
		return ErrNotATeacher
	}
	return svc.repo.SetHomeroomTeacher(ctx, studentID, teacherID)
}

// recipient.Directory

func (svc *Service) FindHomeroomTeacher(ctx context.Context, studentID int) (int, error) {
	return svc.repo.GetHomeroomTeacherID(ctx, studentID)
}

func (svc *Service) ListUserIDsByRole(ctx context.Context, role string) ([]int, error) {
	return svc.repo.QueryUserIDsByRole(ctx, role)
}

func (svc *Service) DisplayName(ctx context.Context, userID int) (string, error) {
	usr, err := svc.repo.GetUser(ctx, GetFilter{ID: userID})
	if err != nil {
		return "", err
	}
	if usr.Name != "" {
		return usr.Name, nil
	}
	return usr.Username, nil
}

// ContactOf returns the name and e-mail of a user, used for e-mail notices.
func (svc *Service) ContactOf(ctx context.Context, userID int) (name, email string, err error) {
	usr, err := svc.repo.GetUser(ctx, GetFilter{ID: userID})
	if err != nil {
		return "", "", err
	}
	return usr.Name, usr.Email, nil
}
