package renewal

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"time"

	"edge_certd/internal/cmdrunner"

	"github.com/sirupsen/logrus"
)

const (
	acmeCommand = "acme.sh"

	// commandTimeout bounds short maintenance invocations
	commandTimeout = 200 * time.Second
)

// Issuer drives the external ACME client to issue or renew certificates
type Issuer struct {
	runner cmdrunner.Runner
	logger *logrus.Entry
}

// NewIssuer creates an issuer backed by the given command runner
func NewIssuer(runner cmdrunner.Runner, logger *logrus.Entry) *Issuer {
	return &Issuer{
		runner: runner,
		logger: logger.WithField("component", "issuer"),
	}
}

// Issue invokes the ACME client for the configured domain set. An existing
// parseable local certificate selects renew mode, otherwise issue mode.
// After the invocation the certificate file is re-verified; a missing or
// unparseable artifact fails the issuance even when the tool reported
// success, because it would corrupt the subsequent upload step.
func (i *Issuer) Issue(ctx context.Context, cfg *Config) error {
	fullchain := cfg.Files["certFullchain"].Path

	renewing := VerifyCertificate(fullchain) == nil
	if renewing {
		i.logger.Info("Certificate already present, attempting to renew it")
	} else {
		i.logger.Info("Issuing a new certificate")
	}

	args := buildIssueArgs(cfg, renewing)
	i.logger.WithField("domains", cfg.Domains).Info("Invoking ACME client")
	i.logger.WithField("args", args).Debug("ACME client invocation")

	if err := i.runner.Run(ctx, issueTimeout(cfg.DNSSleepSeconds), cfg.Env, acmeCommand, args...); err != nil {
		return &IssuanceError{Err: err}
	}

	if err := VerifyCertificate(fullchain); err != nil {
		return &IssuanceError{Err: fmt.Errorf("certificate not present after issuance: %w", err)}
	}
	i.logger.Info("Certificate is present")

	return nil
}

// UpdateAccountMail updates the ACME account contact mail. The caller
// treats the result as best-effort; it must never abort a run.
func (i *Issuer) UpdateAccountMail(ctx context.Context, cfg *Config) error {
	return i.runner.Run(ctx, commandTimeout, nil, acmeCommand,
		"--update-account", "-m", cfg.ContactMail, "--server", cfg.ACMEServer)
}

// buildIssueArgs builds the ACME client argument list; domain order is
// preserved
func buildIssueArgs(cfg *Config, renew bool) []string {
	var args []string
	if cfg.Insecure {
		args = append(args, "--insecure")
	}
	args = append(args, "--force")
	if renew {
		args = append(args, "--renew")
	} else {
		args = append(args, "--issue")
	}
	args = append(args, "--server", cfg.ACMEServer)
	if cfg.ChallengeAlias != "" {
		args = append(args, "--challenge-alias", cfg.ChallengeAlias)
	}
	args = append(args, "--dns", cfg.DNSProvider)
	for _, domain := range cfg.Domains {
		args = append(args, "-d", domain)
	}
	if cfg.DNSSleepSeconds > 0 {
		args = append(args, "--dnssleep", strconv.Itoa(cfg.DNSSleepSeconds))
	}
	if cfg.Debug {
		args = append(args, "--debug")
	}
	return args
}

// issueTimeout scales the invocation budget with the DNS propagation wait
// so a long dnssleep is never truncated
func issueTimeout(dnsSleepSeconds int) time.Duration {
	timeout := 300*time.Second + time.Duration(dnsSleepSeconds)*time.Second
	if timeout < 1200*time.Second {
		timeout = 1200 * time.Second
	}
	return timeout
}

// VerifyCertificate checks that the file at path contains a parseable PEM
// certificate
func VerifyCertificate(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read certificate %s: %w", path, err)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return fmt.Errorf("no PEM certificate block in %s", path)
	}

	if _, err := x509.ParseCertificate(block.Bytes); err != nil {
		return fmt.Errorf("failed to parse certificate %s: %w", path, err)
	}

	return nil
}
