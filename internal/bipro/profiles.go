// Package bipro implements the norm 430 transfer client: STS token
// lifecycle (norm 410), SOAP envelope construction, MTOM/XOP response
// parsing and keystore-to-PEM conversion for mutual TLS.
package bipro

import "strings"

// STSStyle selects the envelope shape of the token request.
type STSStyle string

const (
	// STSWSTrust is the WS-Trust wst:* request carrying a BiPROVersion.
	STSWSTrust STSStyle = "ws-trust"
	// STSAddressing is the WS-Addressing variant with a bare
	// RequestSecurityToken.
	STSAddressing STSStyle = "addressing"
)

// Profile captures the per-VU protocol differences as data. Adding a VU
// means adding a row here, not branching in the call sites.
type Profile struct {
	Name              string
	SOAPAction        string
	STSStyle          STSStyle
	IncludeConfirm    bool // emit <BestaetigeLieferungen> on list calls
	RequireConsumerID bool
}

var (
	profileDefault = Profile{
		Name:           "default",
		SOAPAction:     "",
		STSStyle:       STSWSTrust,
		IncludeConfirm: true,
	}
	profileVema = Profile{
		Name:              "vema",
		SOAPAction:        "",
		STSStyle:          STSAddressing,
		IncludeConfirm:    false,
		RequireConsumerID: true,
	}
)

// profileMatchers map a substring of the VU name or endpoint URL to a
// profile. First match wins; the default profile backs everything else.
var profileMatchers = []struct {
	substring string
	profile   Profile
}{
	{"vema", profileVema},
}

// DetectProfile picks the protocol profile from the VU name or endpoint.
func DetectProfile(vuName, endpoint string) Profile {
	name := strings.ToLower(vuName)
	ep := strings.ToLower(endpoint)
	for _, m := range profileMatchers {
		if strings.Contains(name, m.substring) || strings.Contains(ep, m.substring) {
			return m.profile
		}
	}
	return profileDefault
}
