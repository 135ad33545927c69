package renewal

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Tenant option keys recognized by the orchestrator
const (
	OptionProvider             = "dns_provider"
	OptionWildcardSub          = "add_wildcard_sub"
	OptionWildcardMain         = "add_wildcard_main"
	OptionServer               = "server"
	OptionDebug                = "debug"
	OptionDNSSleep             = "dnssleep"
	OptionDomain               = "domain"
	OptionEdgeIP               = "edge_ip"
	OptionSkipDeployment       = "skip_cert_replacement"
	OptionInsecure             = "insecure"
	OptionRenewDays            = "renew_days_before_expiry"
	OptionMail                 = "mail"
	OptionChallengeAlias       = "challenge_alias"
	OptionArchiveEncryptionKey = "archive_encryption_key"
)

// nonEnvOptionKeys are orchestrator control options. They are never passed
// into the ACME client's environment so they cannot leak into DNS provider
// plugins; every other option is assumed to be a provider credential.
var nonEnvOptionKeys = map[string]bool{
	OptionProvider:             true,
	OptionWildcardSub:          true,
	OptionWildcardMain:         true,
	OptionServer:               true,
	OptionDebug:                true,
	OptionDNSSleep:             true,
	OptionDomain:               true,
	OptionEdgeIP:               true,
	OptionSkipDeployment:       true,
	OptionInsecure:             true,
	OptionRenewDays:            true,
	OptionMail:                 true,
	OptionChallengeAlias:       true,
	OptionArchiveEncryptionKey: true,
}

const (
	// DefaultACMEServer is the staging directory; production must be opted
	// into explicitly via the server option
	DefaultACMEServer = "letsencrypt_test"

	// DefaultRenewThresholdDays is used when renew_days_before_expiry is unset
	DefaultRenewThresholdDays = 20

	// StateDirName is the ACME client's state directory under the base dir
	StateDirName = ".acme.sh"
)

// FileRef maps a logical artifact to a local path and a remote upload name
type FileRef struct {
	Path       string
	UploadName string
}

// Config is the per-run renewal configuration resolved from tenant
// options. It is constructed fresh for every run and never cached, since
// options may change between scheduled executions.
type Config struct {
	Domains            []string
	DNSProvider        string
	ACMEServer         string
	RenewThresholdDays int
	Files              map[string]FileRef
	SkipDeployment     bool
	Insecure           bool
	Debug              bool
	EdgeAddress        string
	ContactMail        string
	ChallengeAlias     string
	DNSSleepSeconds    int
	Env                []string
}

// DomainSource provides the fallback primary domain when the domain
// option is unset
type DomainSource interface {
	EdgeTenantDomain(ctx context.Context) (string, error)
}

// ResolveConfig turns the flat tenant option mapping into a renewal
// configuration. A missing DNS provider is a ConfigurationError; no
// external side effect may happen before this check.
func ResolveConfig(ctx context.Context, options map[string]string, baseDir string, domains DomainSource) (*Config, error) {
	if options[OptionProvider] == "" {
		return nil, &ConfigurationError{Reason: "no DNS provider set"}
	}

	primary := options[OptionDomain]
	if primary == "" {
		domain, err := domains.EdgeTenantDomain(ctx)
		if err != nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("no domain set and tenant lookup failed: %v", err)}
		}
		primary = domain
	}

	domainList := []string{primary}
	if options[OptionWildcardSub] == "true" {
		domainList = append(domainList, "*."+domainList[0])
	}
	if options[OptionWildcardMain] == "true" {
		domainList[0] = wildcardMain(domainList[0])
	}
	primary = domainList[0]

	server := options[OptionServer]
	if server == "" {
		server = DefaultACMEServer
	}

	threshold := DefaultRenewThresholdDays
	if v := options[OptionRenewDays]; v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			threshold = parsed
		}
	}

	dnsSleep := 0
	if v := options[OptionDNSSleep]; v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			dnsSleep = parsed
		}
	}

	certDir := filepath.Join(baseDir, StateDirName, primary)

	cfg := &Config{
		Domains:            domainList,
		DNSProvider:        options[OptionProvider],
		ACMEServer:         server,
		RenewThresholdDays: threshold,
		Files: map[string]FileRef{
			"cert":          {Path: filepath.Join(certDir, primary+".cer"), UploadName: primary + ".crt"},
			"certFullchain": {Path: filepath.Join(certDir, "fullchain.cer"), UploadName: primary + "-fullchain.crt"},
			"key":           {Path: filepath.Join(certDir, primary+".key"), UploadName: primary + ".key"},
		},
		SkipDeployment:  options[OptionSkipDeployment] == "true",
		Insecure:        options[OptionInsecure] == "true",
		Debug:           options[OptionDebug] == "true",
		EdgeAddress:     options[OptionEdgeIP],
		ContactMail:     options[OptionMail],
		ChallengeAlias:  options[OptionChallengeAlias],
		DNSSleepSeconds: dnsSleep,
		Env:             envPairs(options),
	}

	return cfg, nil
}

// wildcardMain replaces the first label of the domain with a wildcard,
// e.g. edge.example.com becomes *.example.com
func wildcardMain(domain string) string {
	idx := strings.Index(domain, ".")
	if idx < 0 {
		return domain
	}
	return "*" + domain[idx:]
}

// envPairs builds sorted KEY=value pairs for the ACME client from every
// option not on the deny-list
func envPairs(options map[string]string) []string {
	var pairs []string
	for key, value := range options {
		if nonEnvOptionKeys[key] {
			continue
		}
		pairs = append(pairs, key+"="+value)
	}
	sort.Strings(pairs)
	return pairs
}
