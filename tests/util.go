package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/trezcool/karani/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// School is a minimal cast: a student, their homeroom teacher, two office and one course staff.
type School struct {
	Student, Teacher, Office1, Office2, Course user.User
}

func CreateSchool(t *testing.T, repo user.Repository) School {
	s := School{
		Teacher: CreateUser(t, repo, "Sato", "sato", "sato@test.jp", "", []string{user.RoleTeacher, user.RoleTeacherHomeroom}, true),
		Office1: CreateUser(t, repo, "Suzuki", "suzuki", "suzuki@test.jp", "", []string{user.RoleStaffOffice}, true),
		Office2: CreateUser(t, repo, "Takahashi", "takahashi", "takahashi@test.jp", "", []string{user.RoleStaffOffice}, true),
		Course:  CreateUser(t, repo, "Tanaka", "tanaka", "tanaka@test.jp", "", []string{user.RoleStaffCourse}, true),
		Student: CreateUser(t, repo, "Ito", "ito", "ito@test.jp", "", []string{user.RoleStudent}, true),
	}
	if err := repo.SetHomeroomTeacher(context.Background(), s.Student.ID, s.Teacher.ID); err != nil {
		t.Fatalf("CreateSchool() failed: %v", err)
	}
	s.Student.HomeroomID = s.Teacher.ID
	return s
}

type LogEntry struct {
	Level string
	Msg   string
}

// Logger records log lines for assertions.
type Logger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (l *Logger) log(level, msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(args) > 0 {
		msg = fmt.Sprintf("%s %v", msg, args)
	}
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg})
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("debug", msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("info", msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("warning", msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("error", msg, args...) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("critical", msg, args...) }

// Entries returns the recorded lines of the given level, all lines if level is "".
func (l *Logger) Entries(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []LogEntry
	for _, e := range l.entries {
		if level == "" || e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

func (l *Logger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
