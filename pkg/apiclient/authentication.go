package apiclient

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"golang.org/x/oauth2"
)

// Authenticator builds OAuth2 token requests for one grant flavour and parses
// token responses. It holds only immutable configuration and may be shared by
// many clients.
type Authenticator struct {
	grant           string
	clientID        string
	clientSecret    string
	username        string
	password        string
	tokenResource   string
	refreshResource string
	now             func() time.Time
}

// AuthOption customises an Authenticator.
type AuthOption func(*Authenticator)

// WithTokenResource sets the resource used to obtain a new token.
func WithTokenResource(resource string) AuthOption {
	return func(a *Authenticator) {
		a.tokenResource = resource
	}
}

// WithRefreshResource sets the resource used to refresh a token. Some
// gateways do not serve refreshes from the token resource.
func WithRefreshResource(resource string) AuthOption {
	return func(a *Authenticator) {
		a.refreshResource = resource
	}
}

// WithClock replaces the clock used to compute token expiry.
func WithClock(now func() time.Time) AuthOption {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewClientCredentials creates an Authenticator for the client credentials grant.
func NewClientCredentials(clientID, clientSecret string, opts ...AuthOption) (*Authenticator, error) {
	auth := newAuthenticator(constants.GrantClientCredentials, clientID, clientSecret, opts)

	err := auth.validate(map[string]string{
		"clientID":     clientID,
		"clientSecret": clientSecret,
	})
	if err != nil {
		return nil, err
	}

	return auth, nil
}

// NewOwnerCredentials creates an Authenticator for the resource owner
// password grant.
func NewOwnerCredentials(clientID, clientSecret, username, password string, opts ...AuthOption) (*Authenticator, error) {
	auth := newAuthenticator(constants.GrantPassword, clientID, clientSecret, opts)
	auth.username = username
	auth.password = password

	err := auth.validate(map[string]string{
		"clientID":     clientID,
		"clientSecret": clientSecret,
		"username":     username,
		"password":     password,
	})
	if err != nil {
		return nil, err
	}

	return auth, nil
}

func newAuthenticator(grant, clientID, clientSecret string, opts []AuthOption) *Authenticator {
	auth := &Authenticator{
		grant:           grant,
		clientID:        clientID,
		clientSecret:    clientSecret,
		tokenResource:   constants.DefaultTokenResource,
		refreshResource: constants.DefaultRefreshResource,
		now:             time.Now,
	}

	for _, opt := range opts {
		opt(auth)
	}

	return auth
}

func (a *Authenticator) validate(values map[string]string) error {
	values["tokenResource"] = a.tokenResource
	values["refreshResource"] = a.refreshResource

	for _, name := range []string{"clientID", "clientSecret", "username", "password", "tokenResource", "refreshResource"} {
		value, ok := values[name]
		if ok && isBlank(value) {
			return invalidArgument(name, "must be a non-blank string")
		}
	}

	return nil
}

// GrantType returns the OAuth2 grant used for new tokens.
func (a *Authenticator) GrantType() string {
	return a.grant
}

// TokenRequest builds the request that obtains a token. When refreshToken is
// not empty a refresh grant is posted to the refresh resource; otherwise the
// configured grant is posted to the token resource.
func (a *Authenticator) TokenRequest(baseURL, refreshToken string) (*Request, error) {
	if isBlank(baseURL) {
		return nil, invalidArgument("baseURL", "must be a non-blank string")
	}

	headers := http.Header{}
	headers.Set(constants.HeaderContentType, constants.ContentTypeForm)

	if refreshToken != "" {
		// client_id and client_secret are not required by OAuth2 for refreshes
		// but some gateways reject refreshes without them.
		body := encodeForm(
			formField{"client_id", a.clientID},
			formField{"client_secret", a.clientSecret},
			formField{"refresh_token", refreshToken},
			formField{"grant_type", constants.GrantRefreshToken},
		)

		return NewRequest(baseURL+"/"+a.refreshResource, http.MethodPost, body, headers)
	}

	fields := []formField{
		{"client_id", a.clientID},
		{"client_secret", a.clientSecret},
	}

	if a.grant == constants.GrantPassword {
		fields = append(fields, formField{"username", a.username}, formField{"password", a.password})
	}

	fields = append(fields, formField{"grant_type", a.grant})

	return NewRequest(baseURL+"/"+a.tokenResource, http.MethodPost, encodeForm(fields...), headers)
}

// ParseTokenResponse extracts the access token, refresh token and expiry from
// a token endpoint response.
func (a *Authenticator) ParseTokenResponse(resp *Response) (*oauth2.Token, error) {
	if resp.Get("error").String() == "invalid_client" {
		return nil, &AuthenticationError{Message: InvalidCredentialsMessage, HTTPCode: resp.HTTPCode()}
	}

	if resp.HTTPCode() != constants.HTTPStatusOK {
		message := UnknownAPIErrorMessage
		if description := resp.Get("error_description"); description.Exists() && description.String() != "" {
			message = description.String()
		}

		return nil, &AuthenticationError{Message: message, HTTPCode: resp.HTTPCode()}
	}

	accessToken := resp.Get("access_token").String()
	if accessToken == "" {
		return nil, &AuthenticationError{Message: "token response missing access_token", HTTPCode: resp.HTTPCode()}
	}

	token := &oauth2.Token{
		AccessToken:  accessToken,
		TokenType:    resp.Get("token_type").String(),
		RefreshToken: resp.Get("refresh_token").String(),
		Expiry:       a.now().Add(time.Duration(resp.Get("expires_in").Int()) * time.Second),
	}

	return token, nil
}

type formField struct {
	name  string
	value string
}

// encodeForm encodes fields in the given order. url.Values would sort them.
func encodeForm(fields ...formField) string {
	var builder strings.Builder

	for i, field := range fields {
		if i > 0 {
			builder.WriteByte('&')
		}

		builder.WriteString(url.QueryEscape(field.name))
		builder.WriteByte('=')
		builder.WriteString(url.QueryEscape(field.value))
	}

	return builder.String()
}
