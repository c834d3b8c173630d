package bipro

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// ShipmentInfo is one row of the getListe response.
type ShipmentInfo struct {
	ID        string
	VUName    string
	Category  string
	Subject   string
	CreatedAt string
}

// ShipmentDocument is one payload file of a fetched shipment.
type ShipmentDocument struct {
	Filename string
	MimeType string
	Content  []byte
}

// ShipmentContent is a fetched shipment: its files plus the raw SOAP XML,
// kept for archiving alongside the documents.
type ShipmentContent struct {
	ID        string
	Documents []ShipmentDocument
	RawXML    []byte
}

// parseShipmentList extracts shipment rows from a (spliced) envelope.
func parseShipmentList(raw []byte) []ShipmentInfo {
	var out []ShipmentInfo
	for _, m := range repeatedElements(raw, "Lieferung") {
		info := ShipmentInfo{
			ID:        firstOf(m, "LieferungID", "ID"),
			VUName:    firstOf(m, "Absender", "VU"),
			Category:  firstOf(m, "Kategorie", "GeVoArt"),
			Subject:   firstOf(m, "Betreff"),
			CreatedAt: firstOf(m, "Erstellungsdatum", "Datum"),
		}
		if info.ID != "" {
			out = append(out, info)
		}
	}
	return out
}

// parseShipmentContent extracts the documents of a getLieferung response.
// Each Dokument element either carries child elements (Dateiname,
// MIMEType, Daten) or holds the Base64 payload as its own text.
func parseShipmentContent(id string, raw []byte) *ShipmentContent {
	content := &ShipmentContent{ID: id, RawXML: raw}
	for i, m := range repeatedElements(raw, "Dokument") {
		b64 := firstOf(m, "Daten")
		if b64 == "" {
			b64 = m[""]
		}
		data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(b64), ""))
		if err != nil || len(data) == 0 {
			continue
		}
		name := firstOf(m, "Dateiname", "Name")
		if name == "" {
			name = defaultDocumentName(i, data)
		}
		content.Documents = append(content.Documents, ShipmentDocument{
			Filename: name,
			MimeType: firstOf(m, "MIMEType", "MimeType"),
			Content:  data,
		})
	}
	return content
}

func firstOf(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}

// defaultDocumentName derives a name for payloads the VU sent nameless.
func defaultDocumentName(index int, data []byte) string {
	ext := ".bin"
	switch {
	case len(data) >= 4 && string(data[:4]) == "%PDF":
		ext = ".pdf"
	case len(data) >= 4 && string(data[:4]) == "0001":
		ext = ".gdv"
	case len(data) > 0 && data[0] == '<':
		ext = ".xml"
	}
	return fmt.Sprintf("dokument_%d%s", index+1, ext)
}
