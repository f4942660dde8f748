package extractor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/openoverheid/docpipe/internal/envelope"
)

var (
	fenceRe    = regexp.MustCompile("(?is)^```(?:json)?\n(.*)\n```$")
	embeddedRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// stripCodeFences removes a surrounding ```json ... ``` or ``` ... ``` block
// if present.
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

// parseModelJSON decodes the model output into a generic object. Models
// occasionally wrap the JSON in fences or prose; the fallback grabs the
// outermost braced region.
func parseModelJSON(raw string) (map[string]any, error) {
	cleaned := stripCodeFences(raw)

	var obj map[string]any
	if err := json.Unmarshal([]byte(cleaned), &obj); err == nil {
		return obj, nil
	}

	embedded := embeddedRe.FindString(cleaned)
	if embedded == "" {
		return nil, fmt.Errorf("no JSON object in model output")
	}
	if err := json.Unmarshal([]byte(embedded), &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// toMetadata converts the loosely-typed model object into the metadata
// section. Missing or mistyped fields degrade to defaults rather than fail.
func toMetadata(obj map[string]any, ts time.Time) *envelope.Metadata {
	return &envelope.Metadata{
		OfficialTitle:       stringOr(obj["official_title"], "Unknown"),
		DocumentType:        stringOr(obj["document_type"], "Unknown"),
		Identifiers:         coerceStringMap(obj["identifiers"]),
		Summary:             stringOr(obj["summary"], ""),
		Keywords:            coerceStringList(obj["keywords"]),
		IssuingAuthority:    stringOr(obj["issuing_authority"], "Unknown"),
		OfficialPublication: stringOr(obj["official_publication"], "Unknown"),
		PublicationNumber:   stringOr(obj["publication_number"], ""),
		PublicationDate:     parseDate(obj["publication_date"]),
		EffectiveDate:       parseDate(obj["effective_date"]),
		RepealDate:          parseDate(obj["repeal_date"]),
		GeographicScope:     coerceStringList(obj["geographic_scope"]),
		SectorScope:         coerceStringList(obj["sector_scope"]),
		TargetAudience:      coerceStringList(obj["target_audience"]),
		HasSanctionRegime:   coerceBool(obj["has_sanction_regime"]),
		Amends:              coerceStringList(obj["amends"]),
		Repeals:             coerceStringList(obj["repeals"]),
		Implements:          coerceStringList(obj["implements"]),
		RelatedCaseLaw:      coerceStringList(obj["related_case_law"]),
		LegalBasis:          coerceStringList(obj["legal_basis"]),
		Timestamp:           ts,
	}
}

func stringOr(v any, fallback string) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return fallback
	}
	return s
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
		return false
	case float64:
		return vv != 0
	default:
		return false
	}
}

func coerceStringList(v any) []string {
	switch vv := v.(type) {
	case nil:
		return []string{}
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if item == nil {
				continue
			}
			out = append(out, toString(item))
		}
		return out
	case string:
		parts := strings.Split(vv, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}

func coerceStringMap(v any) map[string]string {
	out := map[string]string{}
	m, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for k, item := range m {
		if item == nil {
			continue
		}
		out[k] = toString(item)
	}
	return out
}

func toString(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(vv)
	default:
		return fmt.Sprintf("%v", vv)
	}
}

// parseDate accepts an ISO-8601 date, keeping only the date part of a full
// timestamp. Unparseable values become nil.
func parseDate(v any) *time.Time {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if idx := strings.Index(s, "T"); idx >= 0 {
		s = s[:idx]
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}
