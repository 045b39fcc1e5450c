package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/karani/core/user"
)

// addUser creates a user, and assigns their homeroom teacher when homeroomID is set.
func (cli *commandLine) addUser(nu user.NewUser, homeroomID int) error {
	ctx := context.Background()
	if err := nu.Validate(cli.validate, cli.usrSvc); err != nil {
		return err
	}
	usr, err := cli.usrSvc.Create(ctx, nu)
	if err != nil {
		return errors.Wrap(err, "creating user")
	}
	if homeroomID > 0 {
		if err = cli.usrSvc.AssignHomeroom(ctx, usr.ID, homeroomID); err != nil {
			return errors.Wrap(err, "assigning homeroom teacher")
		}
	}
	fmt.Printf("user %q created with ID %d\n", usr.Username, usr.ID)
	return nil
}

func (cli *commandLine) assignHomeroom(studentID, teacherID int) error {
	return cli.usrSvc.AssignHomeroom(context.Background(), studentID, teacherID)
}
