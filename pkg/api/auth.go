package api

import "net/http"

// Header names the remote API uses for authenticated sessions.
const (
	headerPassword  = "X-Password"
	headerAutologin = "X-Autologin"
	headerPIN       = "X-Pin"
)

// Auth carries nation credentials across requests. The remote API issues a
// session PIN and an autologin token in response headers; when the update
// flags are set the client writes them back into this struct in place, so
// subsequent requests reuse the session instead of the password.
type Auth struct {
	Password  string
	Autologin string
	PIN       string

	// UpdateAutologin copies X-Autologin from responses into Autologin.
	UpdateAutologin bool
	// UpdatePIN copies X-Pin from responses into PIN.
	UpdatePIN bool
}

// ApplyHeaders injects the strongest available credential into the outgoing
// request headers. PIN wins over autologin wins over password.
func (a *Auth) ApplyHeaders(h http.Header) {
	if a == nil {
		return
	}
	switch {
	case a.PIN != "":
		h.Set(headerPIN, a.PIN)
	case a.Autologin != "":
		h.Set(headerAutologin, a.Autologin)
	case a.Password != "":
		h.Set(headerPassword, a.Password)
	}
}

// UpdateFrom reads session tokens out of successful response headers,
// mutating the Auth in place when the corresponding update flag is set.
func (a *Auth) UpdateFrom(h http.Header) {
	if a == nil {
		return
	}
	if a.UpdatePIN {
		if pin := h.Get(headerPIN); pin != "" {
			a.PIN = pin
		}
	}
	if a.UpdateAutologin {
		if autologin := h.Get(headerAutologin); autologin != "" {
			a.Autologin = autologin
		}
	}
}
