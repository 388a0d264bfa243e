package controller

import "github.com/five82/biokey/internal/state"

// CreateStatusWithAuth returns a copy of s with auth replaced.
func (c *Controller) CreateStatusWithAuth(s *state.ClientStatus, auth state.AuthStatus) *state.ClientStatus {
	return s.With(c.nowMillis(), func(n *state.ClientStatus) { n.AuthStatus = auth })
}

// CreateStatusWithSecurity returns a copy of s with sec replaced.
func (c *Controller) CreateStatusWithSecurity(s *state.ClientStatus, sec state.SecurityStatus) *state.ClientStatus {
	return s.With(c.nowMillis(), func(n *state.ClientStatus) { n.SecurityStatus = sec })
}

// CreateStatusWithProfile returns a copy of s attached to p.
func (c *Controller) CreateStatusWithProfile(s *state.ClientStatus, p *state.TypingProfile) *state.ClientStatus {
	return s.With(c.nowMillis(), func(n *state.ClientStatus) { n.Profile = p })
}

// CreateStatusWithGoogleAuthKey returns a copy of s with key replaced.
func (c *Controller) CreateStatusWithGoogleAuthKey(s *state.ClientStatus, key string) *state.ClientStatus {
	return s.With(c.nowMillis(), func(n *state.ClientStatus) { n.GoogleAuthKey = key })
}

// CreateStatusWithPhoneNumber returns a copy of s with phone replaced.
func (c *Controller) CreateStatusWithPhoneNumber(s *state.ClientStatus, phone string) *state.ClientStatus {
	return s.With(c.nowMillis(), func(n *state.ClientStatus) { n.PhoneNumber = phone })
}
