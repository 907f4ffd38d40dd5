package domain

import "errors"

// Status is the session's lifecycle state.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusIdle         Status = "idle"
	StatusBusy         Status = "busy"
	// StatusError is never stored by the manager; a failed operation settles
	// in StatusIdle with LastError set. Kept so consumers can switch on the
	// full set of published states.
	StatusError Status = "error"
)

// ErrorKind classifies ErrorInfo for UI presentation.
type ErrorKind string

const (
	KindNetwork        ErrorKind = "network"
	KindUnauthorized   ErrorKind = "unauthorized"
	KindSessionExpired ErrorKind = "session_expired"
	KindValidation     ErrorKind = "validation"
	KindServer         ErrorKind = "server"
	KindStorage        ErrorKind = "storage"
	KindUnknown        ErrorKind = "unknown"
)

// ErrorInfo is the most recent failure surfaced to passive observers.
type ErrorInfo struct {
	Kind    ErrorKind         `json:"kind"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Code    int               `json:"code,omitempty"`
}

// NewErrorInfo classifies err. Session expiry is checked before
// unauthorized because expiry errors match both.
func NewErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{Kind: KindUnknown, Message: err.Error()}

	var ve *ValidationError
	var se *ServerError
	switch {
	case errors.Is(err, ErrSessionExpired):
		info.Kind = KindSessionExpired
	case errors.Is(err, ErrUnauthorized):
		info.Kind = KindUnauthorized
	case errors.As(err, &ve):
		info.Kind = KindValidation
		info.Fields = make(map[string]string, len(ve.Fields))
		for k, v := range ve.Fields {
			info.Fields[k] = v
		}
	case errors.Is(err, ErrValidation):
		info.Kind = KindValidation
	case errors.As(err, &se):
		info.Kind = KindServer
		info.Code = se.Code
	case errors.Is(err, ErrServer):
		info.Kind = KindServer
	case errors.Is(err, ErrNetwork):
		info.Kind = KindNetwork
	case errors.Is(err, ErrStorage):
		info.Kind = KindStorage
	}
	return info
}

// Session is the authoritative snapshot of who is signed in. An empty token
// string stands for "no token".
type Session struct {
	User         *UserRecord `json:"user"`
	AccessToken  string      `json:"-"`
	RefreshToken string      `json:"-"`
	Status       Status      `json:"status"`
	LastError    *ErrorInfo  `json:"lastError,omitempty"`
}

// IsAuthenticated is derived from User on every call.
func (s Session) IsAuthenticated() bool {
	return s.User != nil
}

// Role returns the signed-in user's role, or "" when unauthenticated.
func (s Session) Role() Role {
	if s.User == nil {
		return ""
	}
	return s.User.Role
}

// Clone returns a copy that shares no mutable state with s.
func (s Session) Clone() Session {
	out := s
	out.User = s.User.Clone()
	if s.LastError != nil {
		le := *s.LastError
		if s.LastError.Fields != nil {
			le.Fields = make(map[string]string, len(s.LastError.Fields))
			for k, v := range s.LastError.Fields {
				le.Fields[k] = v
			}
		}
		out.LastError = &le
	}
	return out
}
