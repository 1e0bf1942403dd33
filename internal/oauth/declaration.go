package oauth

import "golang.org/x/oauth2"

// Declaration describes the token endpoint contract for a provider.
type Declaration struct {
	Provider     string
	AuthorizeURL string
	TokenURL     string
	Scope        string
	StatePath    string
	// AuthStyle selects how client credentials reach the token endpoint.
	// Zero lets x/oauth2 auto-detect.
	AuthStyle oauth2.AuthStyle
}

func (d Declaration) endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   d.AuthorizeURL,
		TokenURL:  d.TokenURL,
		AuthStyle: d.AuthStyle,
	}
}

// AuthCodeConfig builds the config used by the interactive link flow.
func (d Declaration) AuthCodeConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     d.endpoint(),
		RedirectURL:  redirectURL,
		Scopes:       scopes(d.Scope),
	}
}
