package service

import "github.com/google/uuid"

// RequestContext carries the caller identity for one request. It is built
// per request and passed explicitly into service calls.
type RequestContext struct {
	RequestID string
	UserID    int64 // zero for anonymous uploaders
	Username  string
	RemoteIP  string
}

// NewRequestContext starts a context with a fresh request ID.
func NewRequestContext(remoteIP string) RequestContext {
	return RequestContext{
		RequestID: uuid.NewString(),
		RemoteIP:  remoteIP,
	}
}

// WithUser returns a copy of rc attributed to the given account.
func (rc RequestContext) WithUser(id int64, username string) RequestContext {
	rc.UserID = id
	rc.Username = username
	return rc
}

func (rc RequestContext) logAttrs() []any {
	attrs := []any{"request_id", rc.RequestID}
	if rc.Username != "" {
		attrs = append(attrs, "user", rc.Username)
	}
	if rc.RemoteIP != "" {
		attrs = append(attrs, "ip", rc.RemoteIP)
	}
	return attrs
}
