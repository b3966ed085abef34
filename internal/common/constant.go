package common

// ContentTypeJSON is set on every archived object and JSON response.
const ContentTypeJSON = "application/json"

// RequestIDHeaderName carries the per-request id generated by the HTTP layer.
const RequestIDHeaderName = "X-Request-Id"
