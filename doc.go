// Package grants provides an OAuth2 authorization grant engine (authorization
// code and device authorization flows) with a pre-issuance extension point
// that lets an external action rewrite scopes and claims before a token is
// signed.
//
// Grant flows:
//   - AuthCodeFlow walks authorize, login, consent and code exchange. Sessions
//     and codes live in a Store and move through transition tables with
//     conditional writes, so a code is exchanged at most once.
//   - DeviceFlow issues device and user codes, accepts approval by user code,
//     and answers polling with authorization_pending, slow_down,
//     access_denied or expired_token until the token is redeemed.
//
// Token issuance:
//   - TokenIssuer builds the default token state, resolves the action bound
//     to the tenant and client, sends it a PRE_ISSUE_ACCESS_TOKEN event, and
//     applies the returned operations with Apply before signing. A failing
//     action never yields a token.
//   - Registered claims (sub, iss, iat, exp, jti, client_id, scope) are owned
//     by the engine. Actions may touch scopes, the aud values, custom claims
//     and the token lifetime through expires_in.
//
// Activity sinks:
//   - ActivitySink receives grant events (session created, code issued, device
//     approved, token issued, action failed). Sinks run best-effort so errors
//     are logged and never fail a flow.
package grants
