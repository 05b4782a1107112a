// Package onboarding implements the session controller behind a multi-step
// identity onboarding wizard rendered in a mobile webview.
//
// Session:
//   - Session is the composition root. It owns the Wizard (step pointer and
//     collected step data), the TokenManager (bearer credential) and the
//     Gateway (authenticated platform calls). UI collaborators hold a pointer
//     to one Session per app load and tear it down with Reset or Shutdown.
//   - State is restored once from the configured store.Store. Until Hydrated
//     reports true, consumers must not trust CurrentStep.
//
// Credentials:
//   - TokenManager returns a valid access token for every call. Tokens within
//     the safety margin of their expiry are refreshed, and failed refreshes
//     fall back to a full login unless StrictRefresh is set. Concurrent
//     acquisitions share a single network round trip.
//   - Gateway retries a request exactly once after a 401, re-authenticating
//     in between.
//
// Steps:
//   - Step commands (RegisterApplicantHandler, SendSmsCodeHandler, ...) wrap
//     the platform endpoints, validate input before any network call and
//     only move the wizard forward when the step they were started on is
//     still current.
//   - Waiting states such as email validation run a WaitTask that is stopped
//     as soon as the wizard leaves the step.
//
// Activity sinks:
//   - ActivitySink receives step transitions, credential issuance and refresh
//     failures. Sinks run best effort; errors are logged.
package onboarding
