package edge

import "github.com/sirupsen/logrus"

// Gateway bundles the management client and the deployer for one renewal
// run against a single edge address
type Gateway struct {
	*Client
	*Deployer
}

// NewGateway creates a gateway for the given edge base URL
func NewGateway(baseURL string, insecure bool, logger *logrus.Entry) *Gateway {
	client := NewClient(baseURL, insecure)
	return &Gateway{
		Client:   client,
		Deployer: NewDeployer(client, logger),
	}
}
