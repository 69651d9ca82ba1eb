// Package auth performs the single-sign-on handshake that turns account
// credentials into a portal session.
//
// The flow is: GET the login page (or short-circuit on a still-valid
// ticket-granting cookie), POST the credentials with the anti-forgery
// execution token, then exchange the returned service ticket for the portal's
// session cookie. Redirects are never followed automatically.
package auth
