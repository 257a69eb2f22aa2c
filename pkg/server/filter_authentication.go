package server

import (
	"strings"

	zctx "github.com/LeeDigitalWorks/zaptus/pkg/context"
)

const (
	FilterTypeAuthentication = "AuthenticationFilter"
)

// AuthenticationFilter moves a bearer token from Authorization into the
// context. Validation is the permission hook's job.
type AuthenticationFilter struct{}

func NewAuthenticationFilter() *AuthenticationFilter {
	return &AuthenticationFilter{}
}

func (f *AuthenticationFilter) Run(d *Data) (Response, error) {
	auth := d.Req.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		d.Ctx = zctx.WithToken(d.Ctx, strings.TrimSpace(auth[7:]))
	}
	return Next{}, nil
}

func (f *AuthenticationFilter) Type() string {
	return FilterTypeAuthentication
}
