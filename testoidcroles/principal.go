package testoidcroles

import (
	"fmt"
	"strings"

	"github.com/b4fun/oidcroles"
)

// ClaimsPrincipal provides on-demand mock for oidcroles.ClaimsPrincipal type.
type ClaimsPrincipal struct {
	NameFunc            func() string
	HasRoleFunc         func(role string) bool
	HasAuthorityFunc    func(authority string) bool
	AuthoritiesFunc     func() *oidcroles.AuthoritySet
	ClaimsFunc          func() oidcroles.MapClaims
	BindClaimsFunc      func(v interface{}) error
	AuthenticateErrFunc func() error
}

var _ oidcroles.ClaimsPrincipal = (*ClaimsPrincipal)(nil)

func (cp *ClaimsPrincipal) Name() string {
	if cp.NameFunc != nil {
		return cp.NameFunc()
	}

	panic("not implemented")
}

func (cp *ClaimsPrincipal) HasRole(role string) bool {
	if cp.HasRoleFunc != nil {
		return cp.HasRoleFunc(role)
	}

	panic("not implemented")
}

func (cp *ClaimsPrincipal) HasAuthority(authority string) bool {
	if cp.HasAuthorityFunc != nil {
		return cp.HasAuthorityFunc(authority)
	}

	panic("not implemented")
}

func (cp *ClaimsPrincipal) Authorities() *oidcroles.AuthoritySet {
	if cp.AuthoritiesFunc != nil {
		return cp.AuthoritiesFunc()
	}

	panic("not implemented")
}

func (cp *ClaimsPrincipal) Claims() oidcroles.MapClaims {
	if cp.ClaimsFunc != nil {
		return cp.ClaimsFunc()
	}

	panic("not implemented")
}

func (cp *ClaimsPrincipal) BindClaims(v interface{}) error {
	if cp.BindClaimsFunc != nil {
		return cp.BindClaimsFunc(v)
	}

	panic("not implemented")
}

func (cp *ClaimsPrincipal) AuthenticateErr() error {
	if cp.AuthenticateErrFunc != nil {
		return cp.AuthenticateErrFunc()
	}

	panic("not implemented")
}

// UnauthenticatedClaimsPrincipal creates an unauthenticated ClaimsPrincipal.
func UnauthenticatedClaimsPrincipal(err error) *ClaimsPrincipal {
	return &ClaimsPrincipal{
		NameFunc: func() string {
			return "unauthorized"
		},

		HasRoleFunc: func(role string) bool {
			return false
		},

		HasAuthorityFunc: func(authority string) bool {
			return false
		},

		AuthoritiesFunc: func() *oidcroles.AuthoritySet {
			return oidcroles.NewAuthoritySet()
		},

		ClaimsFunc: func() oidcroles.MapClaims {
			return oidcroles.MapClaims{}
		},

		BindClaimsFunc: func(v interface{}) error {
			return fmt.Errorf("no claims")
		},

		AuthenticateErrFunc: func() error {
			if err != nil {
				return err
			}

			return oidcroles.ErrUnauthenticated
		},
	}
}

// AuthenticatedClaimsPrincipal creates an authenticated ClaimsPrincipal
// holding the given authorities. HasRole follows the `ROLE_` prefix rule.
func AuthenticatedClaimsPrincipal(
	name string,
	claims oidcroles.MapClaims,
	authorities ...string,
) *ClaimsPrincipal {
	set := oidcroles.NewAuthoritySet()
	for _, a := range authorities {
		set.Add(oidcroles.SimpleAuthority(a))
	}

	return &ClaimsPrincipal{
		NameFunc: func() string {
			return name
		},

		HasRoleFunc: func(role string) bool {
			if !strings.HasPrefix(role, oidcroles.DefaultRolePrefix) {
				role = oidcroles.DefaultRolePrefix + role
			}
			return set.Contains(role)
		},

		HasAuthorityFunc: set.Contains,

		AuthoritiesFunc: func() *oidcroles.AuthoritySet {
			return oidcroles.NewAuthoritySet(set.Slice()...)
		},

		ClaimsFunc: func() oidcroles.MapClaims {
			return claims
		},

		BindClaimsFunc: func(v interface{}) error {
			return fmt.Errorf("not supported")
		},

		AuthenticateErrFunc: func() error {
			return nil
		},
	}
}
