package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/karani/core/user"
)

const userColumns = "id, name, username, email, is_active, password_hash, homeroom_teacher_id, created_at, updated_at, last_login"

type userRow struct {
	ID                int         `db:"id"`
	Name              string      `db:"name"`
	Username          null.String `db:"username"`
	Email             null.String `db:"email"`
	IsActive          bool        `db:"is_active"`
	PasswordHash      []byte      `db:"password_hash"`
	HomeroomTeacherID null.Int    `db:"homeroom_teacher_id"`
	CreatedAt         time.Time   `db:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at"`
	LastLogin         null.Time   `db:"last_login"`
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{db: db}
}

func (repo userRepository) unrow(r userRow) user.User {
	return user.User{
		ID:           r.ID,
		Name:         r.Name,
		Username:     r.Username.String,
		Email:        r.Email.String,
		IsActive:     r.IsActive,
		PasswordHash: r.PasswordHash,
		HomeroomID:   r.HomeroomTeacherID.Int,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		LastLogin:    r.LastLogin.Time,
	}
}

// trapNoRowsErr maps "no rows" err to user.ErrNotFound
func (repo userRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	var (
		where []string
		args  []interface{}
	)
	if username != "" {
		where = append(where, "username = ?")
		args = append(args, username)
	}
	if email != "" {
		where = append(where, "email = ?")
		args = append(args, email)
	}
	if len(where) == 0 {
		return nil
	}
	q := "SELECT username, email FROM users WHERE (" + strings.Join(where, " OR ") + ")"
	if len(excludedUsers) > 0 {
		ids := make([]int, len(excludedUsers))
		for i, u := range excludedUsers {
			ids[i] = u.ID
		}
		q += " AND id NOT IN (?)"
		args = append(args, ids)
	}
	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return errors.Wrap(err, "expanding query")
	}

	var matches []struct {
		Username null.String `db:"username"`
		Email    null.String `db:"email"`
	}
	if err = repo.db.SelectContext(ctx, &matches, repo.db.Rebind(q), args...); err != nil {
		return errors.Wrap(err, "checking username uniqueness")
	}
	for _, m := range matches {
		if username != "" && m.Username.String == username {
			return user.ErrUsernameExists
		}
	}
	if len(matches) > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	err := transact(ctx, repo.db, func(tx *sqlx.Tx) error {
		q := tx.Rebind(`
			INSERT INTO users (name, username, email, is_active, password_hash, homeroom_teacher_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`)
		err := tx.GetContext(ctx, &usr.ID, q,
			usr.Name, null.NewString(usr.Username, usr.Username != ""), null.NewString(usr.Email, usr.Email != ""),
			usr.IsActive, usr.PasswordHash, null.NewInt(usr.HomeroomID, usr.HomeroomID != 0),
			usr.CreatedAt.UTC(), usr.UpdatedAt.UTC(),
		)
		if err != nil {
			return errors.Wrap(err, "inserting user")
		}
		return repo.insertRoles(ctx, tx, usr.ID, usr.Roles)
	})
	if err != nil {
		return user.User{}, err
	}
	return usr, nil
}

func (repo userRepository) insertRoles(ctx context.Context, tx *sqlx.Tx, userID int, roles []string) error {
	q := tx.Rebind("INSERT INTO user_role (user_id, role) VALUES (?, ?)")
	for _, role := range roles {
		if _, err := tx.ExecContext(ctx, q, userID, role); err != nil {
			return errors.Wrapf(err, "inserting role %q", role)
		}
	}
	return nil
}

func (repo userRepository) roles(ctx context.Context, userID int) ([]string, error) {
	roles := make([]string, 0)
	err := repo.db.SelectContext(ctx, &roles, repo.db.Rebind("SELECT role FROM user_role WHERE user_id = ? ORDER BY role"), userID)
	return roles, errors.Wrap(err, "querying user roles")
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	if filter.IsEmpty() {
		return user.User{}, user.ErrNotFound
	}

	var (
		q    = "SELECT " + userColumns + " FROM users WHERE "
		args []interface{}
		err  error
	)
	if filter.ID != 0 {
		q += "id = ?"
		args = append(args, filter.ID)
	} else {
		q += "username IN (?) OR email IN (?) ORDER BY id LIMIT 1"
		if q, args, err = sqlx.In(q, filter.UsernameOrEmail, filter.UsernameOrEmail); err != nil {
			return user.User{}, errors.Wrap(err, "expanding query")
		}
	}

	var r userRow
	if err = repo.db.GetContext(ctx, &r, repo.db.Rebind(q), args...); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding user")
	}
	usr := repo.unrow(r)
	if usr.Roles, err = repo.roles(ctx, usr.ID); err != nil {
		return user.User{}, err
	}
	return usr, nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	err := transact(ctx, repo.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE users SET name = ?, username = ?, email = ?, is_active = ?, password_hash = ?,
				homeroom_teacher_id = ?, updated_at = ?, last_login = ?
			WHERE id = ?`),
			usr.Name, null.NewString(usr.Username, usr.Username != ""), null.NewString(usr.Email, usr.Email != ""),
			usr.IsActive, usr.PasswordHash, null.NewInt(usr.HomeroomID, usr.HomeroomID != 0),
			usr.UpdatedAt.UTC(), null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
			usr.ID,
		)
		if err != nil {
			return errors.Wrap(err, "updating user")
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return user.ErrNotFound
		}

		if _, err = tx.ExecContext(ctx, tx.Rebind("DELETE FROM user_role WHERE user_id = ?"), usr.ID); err != nil {
			return errors.Wrap(err, "deleting user roles")
		}
		return repo.insertRoles(ctx, tx, usr.ID, usr.Roles)
	})
	if err != nil {
		return user.User{}, err
	}
	return usr, nil
}

func (repo userRepository) QueryUserIDsByRole(ctx context.Context, role string) ([]int, error) {
	ids := make([]int, 0)
	err := repo.db.SelectContext(ctx, &ids, repo.db.Rebind(`
		SELECT u.id FROM users u
		JOIN user_role r ON r.user_id = u.id
		WHERE r.role = ? AND u.is_active = ?
		ORDER BY u.id`),
		role, true,
	)
	if err != nil {
		return nil, errors.Wrap(err, "querying users by role")
	}
	return ids, nil
}

func (repo userRepository) GetHomeroomTeacherID(ctx context.Context, studentID int) (int, error) {
	var id null.Int
	err := repo.db.GetContext(ctx, &id, repo.db.Rebind("SELECT homeroom_teacher_id FROM users WHERE id = ?"), studentID)
	if err != nil {
		return 0, repo.trapNoRowsErr(err, "finding homeroom teacher")
	}
	if !id.Valid {
		return 0, user.ErrNotFound
	}
	return id.Int, nil
}

func (repo userRepository) SetHomeroomTeacher(ctx context.Context, studentID, teacherID int) error {
	res, err := repo.db.ExecContext(ctx,
		repo.db.Rebind("UPDATE users SET homeroom_teacher_id = ?, updated_at = ? WHERE id = ?"),
		teacherID, time.Now().UTC(), studentID,
	)
	if err != nil {
		return errors.Wrap(err, "setting homeroom teacher")
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return user.ErrNotFound
	}
	return nil
}
