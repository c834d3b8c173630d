package bipro

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// xmlEscape escapes all five XML entities in interpolated values. Every
// value that enters an envelope goes through here; credentials and shipment
// ids are attacker-ish input as far as the parser is concerned.
var xmlEscape = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
).Replace

const (
	nsSoap = "http://schemas.xmlsoap.org/soap/envelope/"
	nsWST  = "http://docs.oasis-open.org/ws-sx/ws-trust/200512"
	nsWSA  = "http://www.w3.org/2005/08/addressing"
	nsWSSE = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	nsWSU  = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	nsWSC  = "http://docs.oasis-open.org/ws-sx/ws-secureconversation/200512"
	ns430  = "http://www.bipro.net/namespace/transfer"
	nsBase = "http://www.bipro.net/namespace"

	biproVersion = "2.6.1.1.2"
)

// stsRequestEnvelope builds the norm 410 token request in the profile's
// shape.
func stsRequestEnvelope(p Profile, stsURL, username, password, consumerID string) string {
	user := xmlEscape(username)
	pass := xmlEscape(password)

	switch p.STSStyle {
	case STSAddressing:
		var consumer string
		if consumerID != "" {
			consumer = fmt.Sprintf("<bipro:ConsumerID xmlns:bipro=%q>%s</bipro:ConsumerID>", nsBase, xmlEscape(consumerID))
		}
		return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv=%q>
  <soapenv:Header>
    <wsa:Action xmlns:wsa=%q>urn:issueToken</wsa:Action>
    <wsa:To xmlns:wsa=%q>%s</wsa:To>
    <wsse:Security xmlns:wsse=%q>
      <wsse:UsernameToken>
        <wsse:Username>%s</wsse:Username>
        <wsse:Password>%s</wsse:Password>
      </wsse:UsernameToken>
    </wsse:Security>
    %s
  </soapenv:Header>
  <soapenv:Body>
    <RequestSecurityToken xmlns=%q>
      <TokenType>http://schemas.xmlsoap.org/ws/2005/02/sc/sct</TokenType>
      <RequestType>%s/Issue</RequestType>
    </RequestSecurityToken>
  </soapenv:Body>
</soapenv:Envelope>`, nsSoap, nsWSA, nsWSA, xmlEscape(stsURL), nsWSSE, user, pass, consumer, nsWST, nsWST)
	default:
		var consumer string
		if consumerID != "" {
			consumer = fmt.Sprintf("<bipro:ConsumerID xmlns:bipro=%q>%s</bipro:ConsumerID>", nsBase, xmlEscape(consumerID))
		}
		return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv=%q>
  <soapenv:Header>
    <wsse:Security xmlns:wsse=%q>
      <wsse:UsernameToken>
        <wsse:Username>%s</wsse:Username>
        <wsse:Password>%s</wsse:Password>
      </wsse:UsernameToken>
    </wsse:Security>
  </soapenv:Header>
  <soapenv:Body>
    <wst:RequestSecurityToken xmlns:wst=%q>
      <wst:TokenType>http://schemas.xmlsoap.org/ws/2005/02/sc/sct</wst:TokenType>
      <wst:RequestType>%s/Issue</wst:RequestType>
      <bipro:BiPROVersion xmlns:bipro=%q>%s</bipro:BiPROVersion>
      %s
    </wst:RequestSecurityToken>
  </soapenv:Body>
</soapenv:Envelope>`, nsSoap, nsWSSE, user, pass, nsWST, nsWST, nsBase, biproVersion, consumer)
	}
}

// securityHeader renders the SecurityContextToken header for 430 calls.
// Certificate-auth clients pass an empty token and get no header.
func securityHeader(token string) string {
	if token == "" {
		return ""
	}
	return fmt.Sprintf(`<soapenv:Header>
    <wsse:Security xmlns:wsse=%q>
      <wsc:SecurityContextToken xmlns:wsc=%q>
        <wsc:Identifier>%s</wsc:Identifier>
      </wsc:SecurityContextToken>
    </wsse:Security>
  </soapenv:Header>`, nsWSSE, nsWSC, xmlEscape(token))
}

// listShipmentsEnvelope builds the getListe request. The confirm flag is
// only rendered for profiles that support <BestaetigeLieferungen>.
func listShipmentsEnvelope(p Profile, token, consumerID string, confirm bool) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("<transfer:BiPROVersion>%s</transfer:BiPROVersion>", biproVersion))
	if consumerID != "" {
		parts = append(parts, fmt.Sprintf("<transfer:ConsumerID>%s</transfer:ConsumerID>", xmlEscape(consumerID)))
	}
	if p.IncludeConfirm {
		parts = append(parts, fmt.Sprintf("<transfer:BestaetigeLieferungen>%t</transfer:BestaetigeLieferungen>", confirm))
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv=%q>
  %s
  <soapenv:Body>
    <transfer:getListe xmlns:transfer=%q>
      %s
    </transfer:getListe>
  </soapenv:Body>
</soapenv:Envelope>`, nsSoap, securityHeader(token), ns430, strings.Join(parts, "\n      "))
}

// getShipmentEnvelope builds the getLieferung request for one shipment.
func getShipmentEnvelope(p Profile, token, consumerID, shipmentID string) string {
	var consumer string
	if consumerID != "" {
		consumer = fmt.Sprintf("<transfer:ConsumerID>%s</transfer:ConsumerID>\n      ", xmlEscape(consumerID))
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv=%q>
  %s
  <soapenv:Body>
    <transfer:getLieferung xmlns:transfer=%q>
      <transfer:BiPROVersion>%s</transfer:BiPROVersion>
      %s<transfer:LieferungID>%s</transfer:LieferungID>
    </transfer:getLieferung>
  </soapenv:Body>
</soapenv:Envelope>`, nsSoap, securityHeader(token), ns430, biproVersion, consumer, xmlEscape(shipmentID))
}

// ackShipmentEnvelope builds the bestaetigeLieferung request.
func ackShipmentEnvelope(p Profile, token, consumerID, shipmentID string) string {
	var consumer string
	if consumerID != "" {
		consumer = fmt.Sprintf("<transfer:ConsumerID>%s</transfer:ConsumerID>\n      ", xmlEscape(consumerID))
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv=%q>
  %s
  <soapenv:Body>
    <transfer:bestaetigeLieferung xmlns:transfer=%q>
      <transfer:BiPROVersion>%s</transfer:BiPROVersion>
      %s<transfer:LieferungID>%s</transfer:LieferungID>
    </transfer:bestaetigeLieferung>
  </soapenv:Body>
</soapenv:Envelope>`, nsSoap, securityHeader(token), ns430, biproVersion, consumer, xmlEscape(shipmentID))
}

// elementText walks raw XML and returns the character data of the first
// element with the given local name, namespace-agnostic.
func elementText(raw []byte, local string) string {
	dec := xml.NewDecoder(strings.NewReader(string(raw)))
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == local {
				depth = 1
				var sb strings.Builder
				for depth > 0 {
					tok, err := dec.Token()
					if err != nil {
						return strings.TrimSpace(sb.String())
					}
					switch tt := tok.(type) {
					case xml.StartElement:
						depth++
					case xml.EndElement:
						depth--
					case xml.CharData:
						if depth == 1 {
							sb.Write(tt)
						}
					}
				}
				return strings.TrimSpace(sb.String())
			}
		}
	}
}

// repeatedElements collects, for every element with the given local name,
// a map of its child element local names to their text plus the element's
// own direct character data under the "" key.
func repeatedElements(raw []byte, local string) []map[string]string {
	dec := xml.NewDecoder(strings.NewReader(string(raw)))
	var out []map[string]string
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != local {
			continue
		}
		m := map[string]string{}
		var own, child strings.Builder
		depth := 1
		current := ""
		for depth > 0 {
			tok, err := dec.Token()
			if err != nil {
				break
			}
			switch t := tok.(type) {
			case xml.StartElement:
				depth++
				if depth == 2 {
					current = t.Name.Local
					child.Reset()
				}
			case xml.EndElement:
				if depth == 2 && current != "" {
					m[current] = strings.TrimSpace(child.String())
					current = ""
				}
				depth--
			case xml.CharData:
				if depth == 1 {
					own.Write(t)
				} else if depth >= 2 {
					child.Write(t)
				}
			}
		}
		m[""] = strings.TrimSpace(own.String())
		out = append(out, m)
	}
}

// drainReader fully reads r, for response bodies parsed in memory.
func drainReader(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}
