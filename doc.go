// Package identity is the identity and authorization core: user
// registration against an external identity provider, stateless
// verification tokens and role based permission checks.
//
// Registration:
//   - RegistrationOrchestrator runs a saga. The identity provider account is
//     created first, then the local SystemUser record inside a local
//     transaction, then a verification token, an email and a UserRegistered
//     event. If a step after the provider account fails the account is
//     deleted again. Compensation failures are logged and the original error
//     is returned.
//
// Verification tokens:
//   - TokenCodec signs HS256 claim sets carrying subject, email and purpose.
//     Nothing is stored. A password reset token never verifies as an email
//     verification token and vice versa. Callers only ever see
//     ErrInvalidOrExpiredToken; the precise reason is logged.
//
// Authorization:
//   - PermissionAuthorizationService resolves role to permission mappings
//     through a PermissionStore and caches the result per principal with no
//     TTL. Any mapping write evicts the whole cache.
//   - Authorizer.Authorize takes an explicit Requirement (permission, any
//     permission, role, all roles, any role) at the entry of each protected
//     operation.
//
// Adapters for stores, caches, identity providers, notifications, events and
// HTTP live in subpackages.
package identity
