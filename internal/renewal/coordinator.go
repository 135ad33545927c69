package renewal

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"edge_certd/internal/edge"

	"github.com/sirupsen/logrus"
)

// Platform is the subset of the platform client the coordinator depends on
type Platform interface {
	ListTenantOptions(ctx context.Context, category string) (map[string]string, error)
	EdgeTenantDomain(ctx context.Context) (string, error)
	PublishStatusEvent(ctx context.Context, text string) error
}

// CertIssuer drives the external ACME client
type CertIssuer interface {
	Issue(ctx context.Context, cfg *Config) error
	UpdateAccountMail(ctx context.Context, cfg *Config) error
}

// Archiver backs up the ACME client state
type Archiver interface {
	Backup(ctx context.Context) error
}

// EdgeGateway is the per-run view of the edge management endpoint
type EdgeGateway interface {
	GetCertDetails(ctx context.Context) (*edge.CertDetails, error)
	Deploy(ctx context.Context, cert, key edge.Artifact) error
}

// EdgeGatewayFactory builds an edge gateway for a resolved configuration;
// the target address and TLS mode depend on per-run options
type EdgeGatewayFactory func(cfg *Config) EdgeGateway

// Coordinator composes the renewal pipeline and enforces single-flight
// execution across concurrent trigger sources
type Coordinator struct {
	platform   Platform
	issuer     CertIssuer
	archive    Archiver
	newGateway EdgeGatewayFactory
	category   string
	baseDir    string
	logger     *logrus.Entry

	inProgress atomic.Bool
}

// NewCoordinator creates a renewal coordinator
func NewCoordinator(platform Platform, issuer CertIssuer, archive Archiver, newGateway EdgeGatewayFactory, category, baseDir string, logger *logrus.Entry) *Coordinator {
	return &Coordinator{
		platform:   platform,
		issuer:     issuer,
		archive:    archive,
		newGateway: newGateway,
		category:   category,
		baseDir:    baseDir,
		logger:     logger.WithField("component", "coordinator"),
	}
}

// InProgress reports whether a renewal run currently holds the guard
func (c *Coordinator) InProgress() bool {
	return c.inProgress.Load()
}

// RunRenewal executes one renewal run. It returns (false, nil) when the
// decision engine determined renewal was not due, which is a normal no-op
// outcome distinct from failure. A trigger arriving while another run is
// active gets ErrRenewalInProgress immediately.
func (c *Coordinator) RunRenewal(ctx context.Context, forced bool) (bool, error) {
	if !c.inProgress.CompareAndSwap(false, true) {
		return false, ErrRenewalInProgress
	}
	defer c.inProgress.Store(false)

	run := NewRun(forced)
	renewed, err := c.run(ctx, run)
	run.Finish(renewed, err)

	c.logger.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"outcome":  run.Outcome,
		"duration": time.Since(run.StartedAt).Round(time.Second).String(),
	}).Info("Renewal run finished")

	// Fire-and-forget outcome notification; failures deliberately ignored
	switch run.Outcome {
	case OutcomeFailed:
		_ = c.platform.PublishStatusEvent(ctx, "Failed to renew cert.")
	case OutcomeSucceeded:
		_ = c.platform.PublishStatusEvent(ctx, "Successfully renewed cert.")
	default:
		_ = c.platform.PublishStatusEvent(ctx, "Did not attempt to renew cert.")
	}

	return renewed, err
}

func (c *Coordinator) run(ctx context.Context, run *Run) (bool, error) {
	forced := run.Forced
	logger := c.logger.WithFields(logrus.Fields{"run_id": run.ID, "forced": forced})

	options, err := c.platform.ListTenantOptions(ctx, c.category)
	if err != nil {
		return false, fmt.Errorf("failed to fetch tenant options: %w", err)
	}
	logger.Infof("Found %d available options", len(options))

	cfg, err := ResolveConfig(ctx, options, c.baseDir, c.platform)
	if err != nil {
		return false, err
	}

	gateway := c.newGateway(cfg)

	if !forced {
		details, fetchErr := gateway.GetCertDetails(ctx)
		decision := ShouldRenew(cfg, details, fetchErr, forced, time.Now())
		if !decision.Renew {
			logger.WithField("reason", decision.Reason).Info("Scheduled renewal not performed")
			return false, nil
		}
		logger.WithField("reason", decision.Reason).Info("Renewal is due, proceeding")
	}

	if err := c.issuer.Issue(ctx, cfg); err != nil {
		return false, err
	}

	if cfg.ContactMail != "" {
		// Best-effort: a mail update failure must never abort the run
		if err := c.issuer.UpdateAccountMail(ctx, cfg); err != nil {
			logger.WithError(err).Warn("Failed to update mail of account")
		}
	}

	// Best-effort: the certificate is already issued at this point; a
	// backup failure must not fail the renewal
	if err := c.archive.Backup(ctx); err != nil {
		logger.WithError(err).Warn("Failed to back up ACME state")
	}

	if cfg.SkipDeployment {
		logger.Debug("Skipping replacement of certificate and key of edge")
	} else {
		logger.Info("Starting replacement of certificate and key of edge")
		cert := edge.Artifact(cfg.Files["certFullchain"])
		key := edge.Artifact(cfg.Files["key"])
		if err := gateway.Deploy(ctx, cert, key); err != nil {
			return false, err
		}
	}

	return true, nil
}
