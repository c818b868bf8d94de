package oidcroles

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/jmespath/go-jmespath"
)

var (
	ErrEmptyAuthorities     = errors.New("no authorities to map")
	ErrClaimShape           = errors.New("unexpected claim shape")
	ErrUnsupportedAuthority = errors.New("unsupported authority")
)

const (
	// DefaultRolePrefix is prepended to each realm role.
	DefaultRolePrefix = "ROLE_"
	// DefaultRealmAccessClaim is the claim holding the realm roles.
	DefaultRealmAccessClaim = "realm_access"
	// DefaultRolesKey is the key of the role list inside the realm claim.
	DefaultRolesKey = "roles"
)

// MapperParams specifies the realm role mapping settings.
type MapperParams struct {
	// Logger receives the mapping diagnostics at debug level.
	// Defaults to a null logger.
	Logger hclog.Logger

	// RolePrefix is prepended to every extracted role. Defaults to `ROLE_`.
	RolePrefix string

	// RealmAccessClaim specifies the claim holding the realm roles object.
	// Defaults to `realm_access`.
	RealmAccessClaim string

	// RolesKey specifies the key of the role list in the realm roles object.
	// Defaults to `roles`.
	RolesKey string

	// ExtraRolePaths specifies JMESPath expressions selecting more role
	// lists from the claims, e.g. `resource_access."my-client".roles`.
	// A path must select nothing or an array of strings. Optional.
	ExtraRolePaths []string

	// RejectUnsupported fails the mapping when an authority is neither
	// an OIDC, an OAuth2 nor a simple authority. By default such
	// authorities are kept as is and skipped for extraction.
	RejectUnsupported bool
}

func (p MapperParams) defaults() MapperParams {
	rv := p

	if rv.Logger == nil {
		rv.Logger = hclog.NewNullLogger()
	}
	if rv.RolePrefix == "" {
		rv.RolePrefix = DefaultRolePrefix
	}
	if rv.RealmAccessClaim == "" {
		rv.RealmAccessClaim = DefaultRealmAccessClaim
	}
	if rv.RolesKey == "" {
		rv.RolesKey = DefaultRolesKey
	}

	return rv
}

type rolePath struct {
	expr     string
	compiled *jmespath.JMESPath
}

// RealmRoleMapper folds identity provider realm roles into `ROLE_`
// prefixed authorities. It holds no mutable state and is safe for
// concurrent use.
type RealmRoleMapper struct {
	params    MapperParams
	logger    hclog.Logger
	rolePaths []rolePath
}

var _ AuthoritiesMapper = (*RealmRoleMapper)(nil)

// NewRealmRoleMapper creates a RealmRoleMapper from the given params.
func NewRealmRoleMapper(params MapperParams) (*RealmRoleMapper, error) {
	params = params.defaults()

	rv := &RealmRoleMapper{
		params: params,
		logger: params.Logger.Named("mapper"),
	}
	for _, expr := range params.ExtraRolePaths {
		compiled, err := jmespath.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile role path %q: %w", expr, err)
		}
		rv.rolePaths = append(rv.rolePaths, rolePath{expr: expr, compiled: compiled})
	}

	return rv, nil
}

// MapAuthorities returns the input authorities plus one authority per
// role found in the claims of the OIDC and OAuth2 authorities. The input
// is not modified. On error no authorities are returned.
func (m *RealmRoleMapper) MapAuthorities(authorities []GrantedAuthority) (*AuthoritySet, error) {
	if len(authorities) == 0 {
		return nil, ErrEmptyAuthorities
	}

	rv := NewAuthoritySet(authorities...)
	var mapped []GrantedAuthority
	var errs *multierror.Error

	for idx, authority := range authorities {
		if isNilAuthority(authority) {
			errs = multierror.Append(errs, fmt.Errorf("%w: nil authority at index %d", ErrUnsupportedAuthority, idx))
			continue
		}

		kind := KindOf(authority)
		m.logger.Debug("inspecting authority", "index", idx, "kind", kind, "authority", authority)

		var claims claimAccessor
		switch a := authority.(type) {
		case *OIDCUserAuthority:
			claims = a
		case *OAuth2UserAuthority:
			claims = a
		case SimpleAuthority:
			continue
		default:
			err := fmt.Errorf("%w: %T at index %d", ErrUnsupportedAuthority, authority, idx)
			if m.params.RejectUnsupported {
				errs = multierror.Append(errs, err)
			} else {
				m.logger.Debug("skipping authority", "error", err)
			}
			continue
		}

		roles, err := m.extractRoles(claims)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s authority %q: %w", kind, authority.Authority(), err))
			continue
		}
		m.logger.Debug("extracted roles", "index", idx, "roles", roles)

		for _, role := range roles {
			mapped = append(mapped, SimpleAuthority(m.params.RolePrefix+role))
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		m.logger.Debug("mapping failed", "error", err)
		return nil, err
	}

	for _, a := range mapped {
		rv.Add(a)
	}
	m.logger.Debug("mapped authorities", "authorities", rv.Names())

	return rv, nil
}

func (m *RealmRoleMapper) extractRoles(claims claimAccessor) ([]string, error) {
	var rv []string

	if claims.HasClaim(m.params.RealmAccessClaim) {
		realmAccessMap, err := claims.ClaimAsMap(m.params.RealmAccessClaim)
		if err != nil {
			return nil, err
		}
		if roles, exists := realmAccessMap[m.params.RolesKey]; exists {
			name := m.params.RealmAccessClaim + "." + m.params.RolesKey
			realmRoles, err := asStrings(name, roles)
			if err != nil {
				return nil, err
			}
			rv = append(rv, realmRoles...)
		}
	}

	if len(m.rolePaths) == 0 {
		return rv, nil
	}

	// jmespath only walks unnamed maps
	data := map[string]interface{}(claims.Claims())
	for _, p := range m.rolePaths {
		v, err := p.compiled.Search(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrClaimShape, p.expr, err)
		}
		if v == nil {
			continue
		}
		roles, err := asStrings(p.expr, v)
		if err != nil {
			return nil, err
		}
		rv = append(rv, roles...)
	}

	return rv, nil
}

func asStrings(name string, v interface{}) ([]string, error) {
	switch vv := v.(type) {
	case []string:
		return vv, nil
	case []interface{}:
		rv := make([]string, 0, len(vv))
		for i, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s[%d] is %T, expected a string", ErrClaimShape, name, i, item)
			}
			rv = append(rv, s)
		}
		return rv, nil
	default:
		return nil, fmt.Errorf("%w: %s is %T, expected an array of strings", ErrClaimShape, name, v)
	}
}
