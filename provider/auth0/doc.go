// Package auth0 backs the identity core with an Auth0 tenant.
//
// Gateway implements identity.IdentityGateway over the Management API and
// the tenant's /oauth endpoints. TokenValidator checks Auth0 issued access
// tokens against the tenant JWKS and maps them to an identity.Principal.
package auth0
