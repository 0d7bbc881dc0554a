// Package auth decides what a client connection may do before it is
// admitted. It never sees session state.
package auth

import (
	"net/http"
	"sort"
	"strings"
)

// Capability names one permission a connection can hold.
type Capability string

const (
	CapView            Capability = "view"
	CapControlTimer    Capability = "control-timer"
	CapControlSlides   Capability = "control-slides"
	CapControlAnnounce Capability = "control-announce"
	CapControlRole     Capability = "control-role"
)

// AllCapabilities lists every capability.
var AllCapabilities = []Capability{
	CapView, CapControlTimer, CapControlSlides, CapControlAnnounce, CapControlRole,
}

// Client roles carried in tokens.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RolePresenter = "presenter"
	RoleViewer    = "viewer"
)

var roleCapabilities = map[string][]Capability{
	RoleAdmin:     AllCapabilities,
	RoleModerator: AllCapabilities,
	RolePresenter: {CapView, CapControlTimer, CapControlSlides},
	RoleViewer:    {CapView},
}

// CapabilitiesFor returns the union of capabilities granted by roles.
// Unknown roles grant nothing.
func CapabilitiesFor(roles ...string) []Capability {
	set := make(map[Capability]bool)
	for _, r := range roles {
		for _, c := range roleCapabilities[strings.ToLower(strings.TrimSpace(r))] {
			set[c] = true
		}
	}
	out := make([]Capability, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Grant is the outcome of authorizing a connection.
type Grant struct {
	// Subject identifies the caller, when known.
	Subject string

	Roles        []string
	Capabilities []Capability
}

// Has reports whether the grant includes c.
func (g Grant) Has(c Capability) bool {
	for _, x := range g.Capabilities {
		if x == c {
			return true
		}
	}
	return false
}

// Strings returns the capabilities as strings, for logs.
func (g Grant) Strings() []string {
	out := make([]string, len(g.Capabilities))
	for i, c := range g.Capabilities {
		out[i] = string(c)
	}
	return out
}

// Authorizer maps an incoming connection request to a Grant.
type Authorizer interface {
	Authorize(r *http.Request) (Grant, error)
}

// OpenAuthorizer admits everyone with every capability. It suits a single
// room where the network itself is the trust boundary.
type OpenAuthorizer struct{}

func (OpenAuthorizer) Authorize(*http.Request) (Grant, error) {
	return Grant{Subject: "anonymous", Roles: []string{RoleAdmin}, Capabilities: AllCapabilities}, nil
}
