package authapi

import (
	"context"
	"net/http"
	"strings"
)

// SignIn exchanges credentials for an access token.
func (g *Gateway) SignIn(ctx context.Context, username, password string) Response[AuthResponse] {
	return Do[AuthResponse](ctx, g, http.MethodPost, "/users/sign-in",
		signInRequest{Username: username, Password: password}, SkipAuth())
}

// SignUp creates an account. displayName is optional.
func (g *Gateway) SignUp(ctx context.Context, username, password, displayName string) Response[AuthResponse] {
	return Do[AuthResponse](ctx, g, http.MethodPost, "/users/sign-up",
		signUpRequest{Username: username, Password: password, DisplayName: strings.TrimSpace(displayName)}, SkipAuth())
}

// Logout ends the server-side refresh session.
func (g *Gateway) Logout(ctx context.Context) Response[MessageResponse] {
	return Do[MessageResponse](ctx, g, http.MethodPost, "/users/logout", nil, SkipAuth())
}

// RefreshToken calls the refresh endpoint directly, without installing the result.
func (g *Gateway) RefreshToken(ctx context.Context) Response[RefreshResponse] {
	return Do[RefreshResponse](ctx, g, http.MethodPost, refreshEndpoint, nil, SkipAuth())
}

// CurrentUser returns the account behind the current credential.
func (g *Gateway) CurrentUser(ctx context.Context) Response[User] {
	return Do[User](ctx, g, http.MethodGet, "/users/me", nil)
}
