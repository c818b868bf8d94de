package oidcroles

import "github.com/hashicorp/go-hclog"

// Params specifies the OIDC authentication settings.
type Params struct {
	// IssuerURL specifies the issuer URL for discovering public signing keys.
	// Only URLs which use the `https://` scheme are accepted. Required.
	IssuerURL string

	// ClientID specifies the client ID for the OIDC client. Required.
	ClientID string

	// UserNameClaim specifies the JWT claim to use as the user name.
	// By default `sub`, which is expected to the be a unique identifier
	// of the end user. Optional.
	UserNameClaim string

	// RequiredClaims specifies a group of required claims in the ID token.
	// Optional.
	RequiredClaims map[string]string

	// CAFile specifies the full path to the CA that singed the identity provider's
	// web certificate. Defaults to the host's root CAs.
	CAFile string

	// UserInfoFallback treats tokens failing ID token verification as
	// opaque access tokens and resolves them with the userinfo endpoint.
	UserInfoFallback bool

	// Mapper transforms the authorities of every authenticated token.
	// Defaults to a RealmRoleMapper built from MapperParams.
	Mapper AuthoritiesMapper

	// MapperParams configures the default mapper. Ignored when Mapper is set.
	MapperParams MapperParams

	// SessionKey signs the session cookie issued at login, at least 32
	// bytes. Required by Login; the session cookie is ignored when empty.
	SessionKey []byte

	// Logger defaults to a null logger.
	Logger hclog.Logger
}

func (p Params) defaults() Params {
	rv := p

	if rv.UserNameClaim == "" {
		rv.UserNameClaim = "sub"
	}
	if rv.Logger == nil {
		rv.Logger = hclog.NewNullLogger()
	}
	if rv.MapperParams.Logger == nil {
		rv.MapperParams.Logger = rv.Logger
	}

	return rv
}

func (p Params) mapper() (AuthoritiesMapper, error) {
	if p.Mapper != nil {
		return p.Mapper, nil
	}
	return NewRealmRoleMapper(p.MapperParams)
}
