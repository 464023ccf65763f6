package main

import (
	"fmt"

	"github.com/rslifka/elasticity-sub000/config"
	"github.com/rslifka/elasticity-sub000/core/monitoring"
	"github.com/rslifka/elasticity-sub000/core/repository"
	"github.com/rslifka/elasticity-sub000/core/signer"
	"github.com/rslifka/elasticity-sub000/providers/aws"
	"github.com/rslifka/elasticity-sub000/providers/emr"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// env is what every command needs: configuration, a logger and clients
type env struct {
	cfg    *config.Config
	logger *log.Logger
	creds  signer.Credentials
	client *emr.Client
	region string
}

func newEnv(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	logger.SetOutput(c.App.ErrWriter)

	creds, err := signer.ResolveCredentials(c.String("access-key"), c.String("secret-key"))
	if err != nil {
		return nil, err
	}

	region := cfg.Region
	if c.IsSet("region") {
		region = c.String("region")
	}
	version, err := emr.ParseSignatureVersion(cfg.SignatureVersion)
	if err != nil {
		return nil, err
	}
	if version != emr.SignatureV4 {
		return nil, fmt.Errorf("signature_version %q: %w", cfg.SignatureVersion, emr.ErrUnsupportedSignature)
	}

	session, err := emr.NewSession(creds,
		emr.WithRegion(region),
		emr.WithSecure(cfg.Secure),
		emr.WithTimeout(cfg.Timeout),
		emr.WithSignatureVersion(version),
		emr.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	return &env{
		cfg:    cfg,
		logger: logger,
		creds:  creds,
		client: emr.NewClient(session),
		region: region,
	}, nil
}

// history opens the submission history, or returns nil when no database
// is configured
func (e *env) history(c *cli.Context) (*repository.DB, error) {
	if e.cfg.DatabaseURL == "" {
		return nil, nil
	}
	db, err := repository.NewDB(e.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(c.Context); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (e *env) aws(c *cli.Context) (*aws.Client, error) {
	return aws.NewClient(c.Context, e.region, e.creds)
}

func (e *env) monitor(jobFlowID string, recorder monitoring.StateRecorder, extra ...monitoring.MonitorOption) *monitoring.JobFlowMonitor {
	opts := []monitoring.MonitorOption{
		monitoring.WithInterval(e.cfg.PollInterval),
		monitoring.WithLogger(e.logger),
	}
	opts = append(opts, extra...)
	if recorder != nil {
		opts = append(opts, monitoring.WithRecorder(recorder))
	}
	return monitoring.NewJobFlowMonitor(monitoring.ClusterSource{API: e.client, ClusterID: jobFlowID}, opts...)
}
