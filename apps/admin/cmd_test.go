package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strconv"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/karani/core"
	"github.com/trezcool/karani/core/user"
	"github.com/trezcool/karani/storage/database/inmem"
	"github.com/trezcool/karani/tests"
)

var usrRepo user.Repository

func setup(t *testing.T) *commandLine {
	// set up DB & repos
	usrRepo = inmemdb.NewUserRepository(inmemdb.Open())

	validate := validator.New()
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	// start CLI
	return &commandLine{
		usrRepo:  usrRepo,
		usrSvc:   user.NewService(usrRepo),
		validate: validate,
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	wantFields []string // failed fields of a validator.ValidationErrors
	extra      interface{}
}

// mockPasswords makes the password prompts return pwds, in order.
func mockPasswords(pwds ...string) {
	i := 0
	readPasswordFunc = func(fd int) ([]byte, error) {
		if i >= len(pwds) {
			return nil, nil
		}
		i++
		return []byte(pwds[i-1]), nil
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	migrateFunc = func(db *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "certificate_types", "sql"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, cli.run(args), tt)
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)
	teacher := testutil.CreateUser(t, usrRepo, "Sato", "sato", "sato@test.jp", "", []string{user.RoleTeacher}, true)
	pwd := "Kouhai-2100!"

	type extra struct {
		pwds []string
	}
	tests := []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no username nor email", args: []string{"adduser", "-name", "Ito"}, wantErr: errHelp},
		{
			name: "passwords mismatch", args: []string{"adduser", "-name", "Ito", "-username", "itohana"},
			extra: extra{pwds: []string{pwd, pwd + "?"}}, wantFields: []string{"password_confirm"},
		},
		{
			name: "unknown role", args: []string{"adduser", "-name", "Ito", "-username", "itohana", "-role", "lol"},
			extra: extra{pwds: []string{pwd, pwd}}, wantFields: []string{"roles"},
		},
		{
			name: "homeroom is not a teacher", args: []string{"adduser", "-name", "Kato", "-username", "katoken", "-role", user.RoleStudent, "-homeroom", "999"},
			extra: extra{pwds: []string{pwd, pwd}}, wantErr: user.ErrNotFound,
		},
		{
			name: "student", args: []string{"adduser", "-name", "Ito", "-username", "itohana", "-email", "ito@test.jp", "-role", user.RoleStudent, "-homeroom", strconv.Itoa(teacher.ID)},
			extra: extra{pwds: []string{pwd, pwd}},
		},
		{
			name: "username taken", args: []string{"adduser", "-name", "Ito", "-username", "itohana"},
			extra: extra{pwds: []string{pwd, pwd}}, wantErrStr: user.ErrUsernameExists.Error(),
		},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		if e, ok := tt.extra.(extra); ok {
			mockPasswords(e.pwds...)
		} else {
			mockPasswords()
		}

		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, cli.run(args), tt)
		})
	}

	usr, err := cli.usrSvc.GetByUsernameOrEmail(context.Background(), "ito@test.jp")
	if err != nil {
		t.Fatalf("GetByUsernameOrEmail() failed: %v", err)
	}
	if err = usr.CheckPassword(pwd); err != nil {
		t.Errorf("CheckPassword() error = %v", err)
	}
	homeroom, err := cli.usrSvc.FindHomeroomTeacher(context.Background(), usr.ID)
	if err != nil || homeroom != teacher.ID {
		t.Errorf("FindHomeroomTeacher() = %d, %v; want %d", homeroom, err, teacher.ID)
	}
}

func Test_commandLine_assignHomeroom(t *testing.T) {
	cli := setup(t)
	school := testutil.CreateSchool(t, usrRepo)
	newTeacher := testutil.CreateUser(t, usrRepo, "Kobayashi", "kobayashi", "kobayashi@test.jp", "", []string{user.RoleTeacher}, true)
	id := strconv.Itoa

	tests := []cliTest{
		{name: "no args", args: []string{"assignhomeroom"}, wantErr: errHelp},
		{name: "no teacher", args: []string{"assignhomeroom", "-student", id(school.Student.ID)}, wantErr: errHelp},
		{name: "not a student", args: []string{"assignhomeroom", "-student", id(school.Office1.ID), "-teacher", id(newTeacher.ID)}, wantErr: user.ErrNotAStudent},
		{name: "not a teacher", args: []string{"assignhomeroom", "-student", id(school.Student.ID), "-teacher", id(school.Course.ID)}, wantErr: user.ErrNotATeacher},
		{name: "assigned", args: []string{"assignhomeroom", "-student", id(school.Student.ID), "-teacher", id(newTeacher.ID)}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, cli.run(args), tt)
		})
	}

	homeroom, err := cli.usrSvc.FindHomeroomTeacher(context.Background(), school.Student.ID)
	if err != nil || homeroom != newTeacher.ID {
		t.Errorf("FindHomeroomTeacher() = %d, %v; want %d", homeroom, err, newTeacher.ID)
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)

	usr := testutil.CreateUser(t, usrRepo, "User", "awe", "awe@test.cd", "mdr", nil, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: extra{pwd: "lol"}},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		if e, ok := tt.extra.(extra); ok {
			mockPasswords(e.pwd)
		} else {
			mockPasswords()
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			if err == nil {
				refreshedUsr, err := usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
				if err != nil {
					t.Fatalf("GetUser() failed, %v", err)
				}
				if bytes.Equal(refreshedUsr.PasswordHash, usr.PasswordHash) {
					t.Error("failed to update new password")
				}
			} else if errors.Cause(err) != tt.wantErr {
				t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func checkErr(t *testing.T, err error, tt cliTest) {
	t.Helper()
	switch {
	case err == nil:
		if tt.wantErr != nil || tt.wantErrStr != "" || tt.wantFields != nil {
			t.Errorf("cli.run() error = nil, want %v%s%v", tt.wantErr, tt.wantErrStr, tt.wantFields)
		}
	case tt.wantFields != nil:
		vErrs, ok := errors.Cause(err).(validator.ValidationErrors)
		if !ok {
			t.Fatalf("cli.run() error = %v, want validation errors", err)
		}
		fields := make([]string, len(vErrs))
		for i, fe := range vErrs {
			fields[i] = fe.Field()
		}
		if !reflect.DeepEqual(fields, tt.wantFields) {
			t.Errorf("cli.run() failed fields = %v, want %v", fields, tt.wantFields)
		}
	case tt.wantErr != nil:
		if errors.Cause(err) != tt.wantErr {
			t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
		}
	case tt.wantErrStr != "":
		if err.Error() != tt.wantErrStr {
			t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
		}
	default:
		t.Errorf("cli.run() unexpected error = %v", err)
	}
}
