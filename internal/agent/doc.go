// Package agent is the gateway to the privileged Clawdbot backend.
//
// Two call shapes exist:
//
//   - Send: forward a user message to the backend's fixed session
//     (agent:main:main) and hand back its JSON reply verbatim.
//   - Complete: run a one-shot chat completion (system + user message)
//     and extract the first choice's content.
//
// Both attach the bearer credential read once at startup. Upstream
// failures surface as ErrUpstream with the raw body confined to the
// logs, so callers can only ever leak a generic message. There are no
// retries; a forwarded message runs to completion or failure exactly
// once.
package agent
