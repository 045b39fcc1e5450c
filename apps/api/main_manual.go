package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	echoapi "github.com/trezcool/karani/apps/api/echo"
	"github.com/trezcool/karani/core"
	"github.com/trezcool/karani/core/certificate"
	"github.com/trezcool/karani/core/jobsearch"
	"github.com/trezcool/karani/core/labels"
	"github.com/trezcool/karani/core/notification"
	"github.com/trezcool/karani/core/recipient"
	"github.com/trezcool/karani/core/user"
	emailsvc "github.com/trezcool/karani/services/email"
	logsvc "github.com/trezcool/karani/services/logger"
	"github.com/trezcool/karani/storage/database"
	inmemdb "github.com/trezcool/karani/storage/database/inmem"
	boiledrepos "github.com/trezcool/karani/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/karani/storage/database/sqlx"
)

type repositories struct {
	user         user.Repository
	certificate  certificate.Repository
	jobSearch    jobsearch.Repository
	notification notification.Repository
	close        func() error
}

func startManual(inmem bool) {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	defer logger.Flush()

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	// set up DB
	repos, err := setUpRepositories(conf, inmem)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = repos.close(); err != nil {
			dbLogger.Fatal("Failed to close", err)
		}
	}()

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	catalog := labels.NewCatalog()

	usrSvc := user.NewService(repos.user)
	resolver := recipient.NewResolver(usrSvc)
	notifSvc := notification.NewService(repos.notification, logger)
	if conf.EmailNotices {
		notifSvc.WithEmail(mailSvc, usrSvc, catalog, conf)
	}
	certSvc := certificate.NewService(
		repos.certificate, notifSvc, resolver, certificate.TariffFromConfig(conf.MailTariff), logger,
	)
	jobSvc := jobsearch.NewService(repos.jobSearch, notifSvc, resolver, logger)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	core.ParseEmailTemplates(conf, logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:            conf,
			Logger:          logger,
			UserSvc:         usrSvc,
			CertificateSvc:  certSvc,
			JobSearchSvc:    jobSvc,
			NotificationSvc: notifSvc,
			Labels:          catalog,
			Validate:        validate,
			Translator:      translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

// setUpRepositories backs the workflows with postgres: certificates & notifications through sqlboiler,
// users & job searches through sqlx.
func setUpRepositories(conf *core.Config, inmem bool) (repositories, error) {
	if inmem {
		db := inmemdb.Open()
		return repositories{
			user:         inmemdb.NewUserRepository(db),
			certificate:  inmemdb.NewCertificateRepository(db),
			jobSearch:    inmemdb.NewJobSearchRepository(db),
			notification: inmemdb.NewNotificationRepository(db),
			close:        func() error { return nil },
		}, nil
	}

	if err := database.CreateIfNotExist(conf); err != nil {
		return repositories{}, err
	}
	db, err := database.Open(conf)
	if err != nil {
		return repositories{}, err
	}
	if err = database.Migrate(db, "up"); err != nil {
		_ = db.Close()
		return repositories{}, err
	}

	xdb := sqlx.NewDb(db, conf.Database.Engine)
	return repositories{
		user:         sqlxrepos.NewUserRepository(xdb),
		certificate:  boiledrepos.NewCertificateRepository(db),
		jobSearch:    sqlxrepos.NewJobSearchRepository(xdb),
		notification: boiledrepos.NewNotificationRepository(db),
		close:        db.Close,
	}, nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
