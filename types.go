package oidcroles

// MapClaims represents a set of claims in the token.
type MapClaims map[string]interface{}

// ClaimsPrincipal defines the principal object.
type ClaimsPrincipal interface {
	// Name returns the unique identity name of the principal.
	Name() string

	// HasRole checks if the principal has specified role. The role is
	// matched against the `ROLE_` prefixed authorities, so both `ADMIN`
	// and `ROLE_ADMIN` match the `ROLE_ADMIN` authority.
	HasRole(role string) bool

	// HasAuthority checks if the principal has the exact authority.
	HasAuthority(authority string) bool

	// Authorities returns the authorities granted to the principal.
	Authorities() *AuthoritySet

	// Claims returns the claims from the token.
	Claims() MapClaims

	// BindClaims binds the token claims to given value receiver.
	BindClaims(v interface{}) error

	// AuthenticateErr returns error if the principal is unauthenticated.
	AuthenticateErr() error
}

// AuthoritiesMapper transforms the authorities produced by a completed
// authentication exchange into the authorities used for authorization.
type AuthoritiesMapper interface {
	MapAuthorities(authorities []GrantedAuthority) (*AuthoritySet, error)
}

// AuthoritiesMapperFunc adapts a function to AuthoritiesMapper.
type AuthoritiesMapperFunc func(authorities []GrantedAuthority) (*AuthoritySet, error)

func (f AuthoritiesMapperFunc) MapAuthorities(authorities []GrantedAuthority) (*AuthoritySet, error) {
	return f(authorities)
}

// IdentityMapper returns the authorities unchanged.
var IdentityMapper AuthoritiesMapper = AuthoritiesMapperFunc(
	func(authorities []GrantedAuthority) (*AuthoritySet, error) {
		if len(authorities) == 0 {
			return nil, ErrEmptyAuthorities
		}
		return NewAuthoritySet(authorities...), nil
	},
)
