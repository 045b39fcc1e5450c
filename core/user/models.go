package user

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/karani/core"
)

// Roles
const (
	// Admin
	RoleAdmin      = "admin:"
	RoleAdminOwner = "admin:owner"

	// Teacher
	RoleTeacher         = "teacher:"
	RoleTeacherHomeroom = "teacher:homeroom"

	// Staff
	RoleStaff       = "staff:"
	RoleStaffCourse = "staff:course"
	RoleStaffOffice = "staff:office"

	// Student
	RoleStudent = "student:"
)

var (
	AdminRoles   = []string{RoleAdmin, RoleAdminOwner}
	TeacherRoles = []string{RoleTeacher, RoleTeacherHomeroom}
	StaffRoles   = []string{RoleStaff, RoleStaffCourse, RoleStaffOffice}
	StudentRoles = []string{RoleStudent}
	AllRoles     = getAllRoles()

	rolePriorities = map[string]int{
		// Admins: 40 - 31
		RoleAdminOwner: 40,
		RoleAdmin:      31,

		// Staff: 30 - 21
		RoleStaffOffice: 23,
		RoleStaffCourse: 22,
		RoleStaff:       21,

		// Teachers: 20 - 11
		RoleTeacherHomeroom: 12,
		RoleTeacher:         11,

		// Students: 10 - 1
		RoleStudent: 1,
	}
)

func getAllRoles() []string {
	all := make([]string, 0, 8)
	all = append(all, AdminRoles...)
	all = append(all, StaffRoles...)
	all = append(all, TeacherRoles...)
	all = append(all, StudentRoles...)
	return all
}

func RolePriority(role string) int {
	return rolePriorities[role]
}

func MaxRolePriority(roles []string) int {
	var max int
	for _, role := range roles {
		if RolePriority(role) > max {
			max = RolePriority(role)
		}
	}
	return max
}

type User struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	IsActive     bool      `json:"is_active"`
	Roles        []string  `json:"roles"`
	PasswordHash []byte    `json:"-"`
	HomeroomID   int       `json:"homeroom_teacher_id,omitempty"` // students only
	CreatedAt    time.Time `json:"created_at"`                    // UTC
	UpdatedAt    time.Time `json:"updated_at"`                    // UTC
	LastLogin    time.Time `json:"last_login"`                    // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) RoleStartsWith(prefix string) bool {
	for _, role := range u.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (u *User) IsAdmin() bool       { return u.RoleStartsWith(RoleAdmin) }
func (u *User) IsTeacher() bool     { return u.RoleStartsWith(RoleTeacher) }
func (u *User) IsStaff() bool       { return u.RoleStartsWith(RoleStaff) }
func (u *User) IsOfficeStaff() bool { return u.HasRole(RoleStaffOffice) }
func (u *User) IsCourseStaff() bool { return u.HasRole(RoleStaffCourse) }
func (u *User) IsStudent() bool     { return u.RoleStartsWith(RoleStudent) }

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string   `json:"name" validate:"required"`
	Username        string   `json:"username" validate:"omitempty,min=6,alphanum_"`
	Email           string   `json:"email" validate:"omitempty,email"`
	Password        string   `json:"password" validate:"required"`
	PasswordConfirm string   `json:"password_confirm" validate:"required,eqfield=Password"`
	Roles           []string `json:"roles" validate:"omitempty,allroles"`
	HomeroomID      int      `json:"homeroom_teacher_id" validate:"omitempty,min=1"`
}

func (nu *NewUser) Validate(validate *validator.Validate, svc *Service) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(nu.Username, nu.Email)
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (lr LoginRequest) Validate(validate *validator.Validate) error { return validate.Struct(lr) }

// GetFilter selects a single User: by ID, or by any of the usernames/emails given.
type GetFilter struct {
	ID              int
	UsernameOrEmail []string
}

func (f GetFilter) IsEmpty() bool {
	return f.ID == 0 && len(f.UsernameOrEmail) == 0
}
