package dig_container

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

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

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	// Repositories are the storage backends of the services.
	Repositories struct {
		dig.Out
		User         user.Repository
		Certificate  certificate.Repository
		JobSearch    jobsearch.Repository
		Notification notification.Repository
		Closer       DBCloser
	}

	// DBCloser releases the storage backend.
	DBCloser func() error
)

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newPostgres(conf *core.Config) (*sql.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}
	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}
	if err = database.Migrate(db, "up"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newRepositories(inmem bool) func(conf *core.Config, loggerParam DBLoggerParam) Repositories {
	return func(conf *core.Config, loggerParam DBLoggerParam) Repositories {
		if inmem {
			db := inmemdb.Open()
			return Repositories{
				User:         inmemdb.NewUserRepository(db),
				Certificate:  inmemdb.NewCertificateRepository(db),
				JobSearch:    inmemdb.NewJobSearchRepository(db),
				Notification: inmemdb.NewNotificationRepository(db),
				Closer:       func() error { return nil },
			}
		}

		db, err := newPostgres(conf)
		if err != nil {
			loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
		}
		xdb := sqlx.NewDb(db, conf.Database.Engine)
		return Repositories{
			User:         sqlxrepos.NewUserRepository(xdb),
			Certificate:  boiledrepos.NewCertificateRepository(db),
			JobSearch:    sqlxrepos.NewJobSearchRepository(xdb),
			Notification: boiledrepos.NewNotificationRepository(db),
			Closer:       db.Close,
		}
	}
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func newNotificationService(
	conf *core.Config,
	repo notification.Repository,
	logger core.Logger,
	mailSvc core.EmailService,
	usrSvc *user.Service,
	catalog *labels.Catalog,
) *notification.Service {
	svc := notification.NewService(repo, logger)
	if conf.EmailNotices {
		svc.WithEmail(mailSvc, usrSvc, catalog, conf)
	}
	return svc
}

func newCertificateService(
	conf *core.Config,
	repo certificate.Repository,
	notifier *notification.Service,
	resolver *recipient.Resolver,
	logger core.Logger,
) *certificate.Service {
	return certificate.NewService(repo, notifier, resolver, certificate.TariffFromConfig(conf.MailTariff), logger)
}

func newJobSearchService(
	repo jobsearch.Repository,
	notifier *notification.Service,
	resolver *recipient.Resolver,
	logger core.Logger,
) *jobsearch.Service {
	return jobsearch.NewService(repo, notifier, resolver, logger)
}

func newServerDeps(
	conf *core.Config,
	logger core.Logger,
	usrSvc *user.Service,
	certSvc *certificate.Service,
	jobSvc *jobsearch.Service,
	notifSvc *notification.Service,
	catalog *labels.Catalog,
	validate *validator.Validate,
	translator ut.Translator,
) echoapi.ServerDeps {
	return echoapi.ServerDeps{
		Conf:            conf,
		Logger:          logger,
		UserSvc:         usrSvc,
		CertificateSvc:  certSvc,
		JobSearchSvc:    jobSvc,
		NotificationSvc: notifSvc,
		Labels:          catalog,
		Validate:        validate,
		Translator:      translator,
	}
}

// New returns a new dependency injection dig.Container
func New(inmem bool) *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newRepositories(inmem)))
	must(c.Provide(newEmailService))
	must(c.Provide(labels.NewCatalog))
	must(c.Provide(user.NewService))
	must(c.Provide(func(svc *user.Service) *recipient.Resolver { return recipient.NewResolver(svc) }))
	must(c.Provide(newNotificationService))
	must(c.Provide(newCertificateService))
	must(c.Provide(newJobSearchService))
	must(c.Provide(validator.New))
	must(c.Provide(newTranslator))
	must(c.Provide(newServerDeps))
	must(c.Provide(echoapi.NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
