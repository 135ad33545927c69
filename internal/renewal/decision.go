package renewal

import (
	"fmt"
	"time"

	"edge_certd/internal/edge"
)

// Decision is the outcome of the renewal decision engine
type Decision struct {
	Renew  bool
	Reason string
}

// ShouldRenew decides whether a renewal attempt should proceed.
//
// A forced run always proceeds. When the current certificate details could
// not be fetched, the engine fails open toward renewal and treats the edge
// as having no certificate. A subject that does not match the configured
// primary domain blocks scheduled renewal: the remote certificate was
// provisioned for a different configuration and automation must not
// override it. Otherwise renewal is due when the remaining validity drops
// below the configured threshold, or when the expiry is absent or
// unparseable.
func ShouldRenew(cfg *Config, details *edge.CertDetails, fetchErr error, forced bool, now time.Time) Decision {
	if forced {
		return Decision{Renew: true, Reason: "forced"}
	}

	if fetchErr != nil {
		return Decision{Renew: true, Reason: fmt.Sprintf("no current certificate readable: %v", fetchErr)}
	}

	if details.Subject != cfg.Domains[0] {
		return Decision{
			Renew:  false,
			Reason: fmt.Sprintf("current certificate subject %q does not match configured domain %q", details.Subject, cfg.Domains[0]),
		}
	}

	if details.Expiry == "" {
		return Decision{Renew: true, Reason: "current certificate has no expiry"}
	}

	expiry, err := time.Parse(time.RFC3339, details.Expiry)
	if err != nil {
		return Decision{Renew: true, Reason: fmt.Sprintf("unparseable expiry %q", details.Expiry)}
	}

	remaining := expiry.Sub(now)
	threshold := time.Duration(cfg.RenewThresholdDays) * 24 * time.Hour
	if remaining < threshold {
		return Decision{Renew: true, Reason: fmt.Sprintf("certificate expires in %s", remaining.Round(time.Hour))}
	}

	return Decision{
		Renew:  false,
		Reason: fmt.Sprintf("renewal not yet due, certificate expires %s", expiry.Format(time.RFC3339)),
	}
}
