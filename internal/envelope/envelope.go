package envelope

import (
	"time"
)

// Validation statuses
const (
	ValidationStatusValid   = "valid"
	ValidationStatusInvalid = "invalid"
)

// Document carries the core fields produced at ingestion and enriched along
// the way. Identity fields are set once; Payload accumulates stage outputs.
type Document struct {
	Source    string         `json:"source"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	URL       string         `json:"url,omitempty"`
	Extension string         `json:"extension,omitempty"`
	Payload   map[string]any `json:"payload"`
}

// Validation is set by the validation stage.
type Validation struct {
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
}

// PIIScan is set by the pii-scanning stage. Matches holds at most a few
// deduplicated examples per category.
type PIIScan struct {
	HasPII    bool                `json:"has_pii"`
	Engine    string              `json:"engine,omitempty"`
	Matches   map[string][]string `json:"matches,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// Metadata holds the structured descriptive fields extracted from the
// document text.
type Metadata struct {
	OfficialTitle       string            `json:"official_title"`
	DocumentType        string            `json:"document_type"`
	Identifiers         map[string]string `json:"identifiers"`
	Summary             string            `json:"summary,omitempty"`
	Keywords            []string          `json:"keywords"`
	IssuingAuthority    string            `json:"issuing_authority"`
	OfficialPublication string            `json:"official_publication"`
	PublicationNumber   string            `json:"publication_number,omitempty"`
	PublicationDate     *time.Time        `json:"publication_date,omitempty"`
	EffectiveDate       *time.Time        `json:"effective_date,omitempty"`
	RepealDate          *time.Time        `json:"repeal_date,omitempty"`
	GeographicScope     []string          `json:"geographic_scope"`
	SectorScope         []string          `json:"sector_scope"`
	TargetAudience      []string          `json:"target_audience"`
	HasSanctionRegime   bool              `json:"has_sanction_regime"`
	Amends              []string          `json:"amends"`
	Repeals             []string          `json:"repeals"`
	Implements          []string          `json:"implements"`
	RelatedCaseLaw      []string          `json:"related_case_law"`
	LegalBasis          []string          `json:"legal_basis"`
	Timestamp           time.Time         `json:"timestamp"`
}

// Envelope is the composite record threaded through every pipeline stage.
// Document is set once at ingestion; every other section is write-once per
// run, owned by the stage named after it.
type Envelope struct {
	Document   *Document
	Validation *Validation
	PII        *PIIScan
	Metadata   *Metadata
}

// DocumentID returns the stable identity key used for the status ledger and
// storage de-duplication: the document id, falling back to its name.
func (e *Envelope) DocumentID() string {
	if e == nil || e.Document == nil {
		return ""
	}
	if e.Document.ID != "" {
		return e.Document.ID
	}
	return e.Document.Name
}

// Clone returns a deep copy so a stage can forward a modified envelope
// without sharing payload maps with the received one.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	out := &Envelope{}
	if e.Document != nil {
		doc := *e.Document
		doc.Payload = clonePayload(e.Document.Payload)
		out.Document = &doc
	}
	if e.Validation != nil {
		v := *e.Validation
		out.Validation = &v
	}
	if e.PII != nil {
		p := *e.PII
		if e.PII.Matches != nil {
			p.Matches = make(map[string][]string, len(e.PII.Matches))
			for k, v := range e.PII.Matches {
				p.Matches[k] = append([]string(nil), v...)
			}
		}
		out.PII = &p
	}
	if e.Metadata != nil {
		m := *e.Metadata
		if e.Metadata.Identifiers != nil {
			m.Identifiers = make(map[string]string, len(e.Metadata.Identifiers))
			for k, v := range e.Metadata.Identifiers {
				m.Identifiers[k] = v
			}
		}
		m.Keywords = append([]string(nil), e.Metadata.Keywords...)
		m.GeographicScope = append([]string(nil), e.Metadata.GeographicScope...)
		m.SectorScope = append([]string(nil), e.Metadata.SectorScope...)
		m.TargetAudience = append([]string(nil), e.Metadata.TargetAudience...)
		m.Amends = append([]string(nil), e.Metadata.Amends...)
		m.Repeals = append([]string(nil), e.Metadata.Repeals...)
		m.Implements = append([]string(nil), e.Metadata.Implements...)
		m.RelatedCaseLaw = append([]string(nil), e.Metadata.RelatedCaseLaw...)
		m.LegalBasis = append([]string(nil), e.Metadata.LegalBasis...)
		out.Metadata = &m
	}
	return out
}

func clonePayload(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = clonePayload(vv)
		case []any:
			lst := make([]any, len(vv))
			copy(lst, vv)
			out[k] = lst
		default:
			out[k] = v
		}
	}
	return out
}
