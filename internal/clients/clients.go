package clients

import (
	"apnastudent/portal/internal/api"
	"apnastudent/portal/internal/config"
	"apnastudent/portal/internal/identity"
)

type Clients struct {
	Backend  *api.Client
	Identity *identity.Client
}

func New(cfg config.Config) *Clients {
	return &Clients{
		Backend:  api.NewClient(cfg.BackendBaseURL, cfg.RequestTimeout),
		Identity: identity.NewClient(cfg.IdentityBaseURL, cfg.IdentityAPIKey, cfg.RequestTimeout),
	}
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Backend != nil {
		c.Backend.Close()
	}
	if c.Identity != nil {
		c.Identity.Close()
	}
}
