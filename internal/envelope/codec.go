package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ContentType used for every message body on the wire.
const ContentType = "application/json"

// MalformedError reports a wire body whose top-level structure could not be
// parsed at all. Anything less (a missing or invalid section) degrades to an
// absent section instead.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed envelope: %v", e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// IsMalformed reports whether err stems from an unparseable wire body.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

// Encode serializes the envelope to its wire shape. All four top-level keys
// are always present; absent sections serialize to explicit nulls so every
// consumer sees the same fixed shape.
func Encode(e *Envelope) ([]byte, error) {
	out := map[string]any{
		"document":   nil,
		"validation": nil,
		"pii":        nil,
		"metadata":   nil,
	}

	if e != nil && e.Document != nil {
		out["document"] = map[string]any{
			"source":    e.Document.Source,
			"id":        nullableString(e.Document.ID),
			"name":      nullableString(e.Document.Name),
			"url":       nullableString(e.Document.URL),
			"extension": nullableString(e.Document.Extension),
			"payload":   payloadOrEmpty(e.Document.Payload),
		}
	}

	if e != nil && e.Validation != nil {
		out["validation"] = map[string]any{
			"timestamp": toISO(e.Validation.Timestamp),
			"status":    e.Validation.Status,
			"message":   nullableString(e.Validation.Message),
		}
	}

	if e != nil && e.PII != nil {
		out["pii"] = map[string]any{
			"has_pii":   e.PII.HasPII,
			"engine":    nullableString(e.PII.Engine),
			"matches":   e.PII.Matches,
			"timestamp": toISO(e.PII.Timestamp),
		}
	}

	if e != nil && e.Metadata != nil {
		m := e.Metadata
		out["metadata"] = map[string]any{
			"official_title":       m.OfficialTitle,
			"document_type":        m.DocumentType,
			"identifiers":          identifiersOrEmpty(m.Identifiers),
			"summary":              nullableString(m.Summary),
			"keywords":             listOrEmpty(m.Keywords),
			"issuing_authority":    m.IssuingAuthority,
			"official_publication": m.OfficialPublication,
			"publication_number":   nullableString(m.PublicationNumber),
			"publication_date":     toISOPtr(m.PublicationDate),
			"effective_date":       toISOPtr(m.EffectiveDate),
			"repeal_date":          toISOPtr(m.RepealDate),
			"geographic_scope":     listOrEmpty(m.GeographicScope),
			"sector_scope":         listOrEmpty(m.SectorScope),
			"target_audience":      listOrEmpty(m.TargetAudience),
			"has_sanction_regime":  m.HasSanctionRegime,
			"amends":               listOrEmpty(m.Amends),
			"repeals":              listOrEmpty(m.Repeals),
			"implements":           listOrEmpty(m.Implements),
			"related_case_law":     listOrEmpty(m.RelatedCaseLaw),
			"legal_basis":          listOrEmpty(m.LegalBasis),
			"timestamp":            toISO(m.Timestamp),
		}
	}

	return json.Marshal(out)
}

// Decode parses a wire body into an Envelope. It tolerates a bare content
// object or a JSON string containing one; each section is decoded
// independently and degrades to absent on invalid shape. Only an unparseable
// top level fails hard.
func Decode(body []byte) (*Envelope, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &MalformedError{Err: err}
	}
	// A string body carries JSON-encoded content one level down.
	if s, ok := raw.(string); ok {
		if err := json.Unmarshal([]byte(s), &raw); err != nil {
			return nil, &MalformedError{Err: err}
		}
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, &MalformedError{Err: errors.New("top-level value is not an object")}
	}

	return &Envelope{
		Document:   decodeDocument(obj["document"]),
		Validation: decodeValidation(obj["validation"]),
		PII:        decodePII(obj["pii"]),
		Metadata:   decodeMetadata(obj["metadata"]),
	}, nil
}

func decodeDocument(raw any) *Document {
	block, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	payload, ok := block["payload"].(map[string]any)
	if !ok {
		payload = map[string]any{}
	}
	source := stringField(block, "source")
	if source == "" {
		source = "unknown"
	}
	return &Document{
		Source:    source,
		ID:        stringField(block, "id"),
		Name:      stringField(block, "name"),
		URL:       stringField(block, "url"),
		Extension: stringField(block, "extension"),
		Payload:   payload,
	}
}

func decodeValidation(raw any) *Validation {
	block, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	ts, tsOK := parseTime(block["timestamp"])
	status, statusOK := block["status"].(string)
	if !tsOK || !statusOK {
		return nil
	}
	return &Validation{
		Timestamp: ts,
		Status:    status,
		Message:   stringField(block, "message"),
	}
}

func decodePII(raw any) *PIIScan {
	block, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	hasPII, ok := block["has_pii"].(bool)
	if !ok {
		return nil
	}
	p := &PIIScan{
		HasPII: hasPII,
		Engine: stringField(block, "engine"),
	}
	switch m := block["matches"].(type) {
	case map[string]any:
		matches := make(map[string][]string, len(m))
		for k, v := range m {
			matches[k] = coerceStringList(v)
		}
		p.Matches = matches
	case []any:
		// Legacy flat list of examples collapses into a generic category.
		if len(m) > 0 {
			p.Matches = map[string][]string{"generic": coerceStringList(m)}
		} else {
			p.Matches = map[string][]string{}
		}
	}
	if ts, ok := parseTime(block["timestamp"]); ok {
		p.Timestamp = ts
	}
	return p
}

func decodeMetadata(raw any) *Metadata {
	block, ok := raw.(map[string]any)
	if !ok || len(block) == 0 {
		return nil
	}
	m := &Metadata{
		OfficialTitle:       stringFieldOr(block, "official_title", "Unknown"),
		DocumentType:        stringFieldOr(block, "document_type", "Unknown"),
		Identifiers:         coerceStringMap(block["identifiers"]),
		Summary:             stringField(block, "summary"),
		Keywords:            coerceStringList(block["keywords"]),
		IssuingAuthority:    stringFieldOr(block, "issuing_authority", "Unknown"),
		OfficialPublication: stringFieldOr(block, "official_publication", "Unknown"),
		PublicationNumber:   stringField(block, "publication_number"),
		PublicationDate:     parseTimePtr(block["publication_date"]),
		EffectiveDate:       parseTimePtr(block["effective_date"]),
		RepealDate:          parseTimePtr(block["repeal_date"]),
		GeographicScope:     coerceStringList(block["geographic_scope"]),
		SectorScope:         coerceStringList(block["sector_scope"]),
		TargetAudience:      coerceStringList(block["target_audience"]),
		HasSanctionRegime:   coerceBool(block["has_sanction_regime"]),
		Amends:              coerceStringList(block["amends"]),
		Repeals:             coerceStringList(block["repeals"]),
		Implements:          coerceStringList(block["implements"]),
		RelatedCaseLaw:      coerceStringList(block["related_case_law"]),
		LegalBasis:          coerceStringList(block["legal_basis"]),
	}
	if ts, ok := parseTime(block["timestamp"]); ok {
		m.Timestamp = ts
	} else {
		m.Timestamp = time.Now().UTC().Truncate(time.Second)
	}
	return m
}

func toISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toISOPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toISO(*t)
}

// parseTime accepts RFC3339 timestamps, zone-less timestamps and date-only
// strings (promoted to midnight).
func parseTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func parseTimePtr(v any) *time.Time {
	if t, ok := parseTime(v); ok {
		return &t
	}
	return nil
}

func stringField(block map[string]any, key string) string {
	s, _ := block[key].(string)
	return s
}

func stringFieldOr(block map[string]any, key, fallback string) string {
	if s, ok := block[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func coerceBool(v any) bool {
	switch vv := v.(type) {
	case bool:
		return vv
	case string:
		switch strings.ToLower(strings.TrimSpace(vv)) {
		case "true", "1", "yes":
			return true
		}
	case float64:
		return vv != 0
	}
	return false
}

// coerceStringList accepts a list of anything or a comma-separated string.
// It always returns a non-nil slice so encoded envelopes carry [] rather
// than null.
func coerceStringList(v any) []string {
	out := []string{}
	switch vv := v.(type) {
	case []any:
		for _, item := range vv {
			if item == nil {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
	case string:
		for _, part := range strings.Split(vv, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func coerceStringMap(v any) map[string]string {
	out := map[string]string{}
	if m, ok := v.(map[string]any); ok {
		for k, val := range m {
			if val == nil {
				continue
			}
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func listOrEmpty(l []string) []string {
	if l == nil {
		return []string{}
	}
	return l
}

func identifiersOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func payloadOrEmpty(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}
