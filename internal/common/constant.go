package common

// AccessTokenHeaderName is the gRPC metadata key carrying the access token
// issued on authentication.
const AccessTokenHeaderName = "access_token"

// DirectMessagePath is the HTTP path a hidden address serves direct
// deliveries on.
const DirectMessagePath = "/message"
