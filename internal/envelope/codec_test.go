package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAlwaysEmitsAllSections(t *testing.T) {
	body, err := Encode(&Envelope{
		Document: &Document{Source: "upload", Name: "doc.pdf", Payload: map[string]any{}},
	})
	require.NoError(t, err)

	s := string(body)
	assert.Contains(t, s, `"document"`)
	assert.Contains(t, s, `"validation":null`)
	assert.Contains(t, s, `"pii":null`)
	assert.Contains(t, s, `"metadata":null`)
}

func TestRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 20, 10, 30, 0, 0, time.UTC)
	pubDate := time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)

	in := &Envelope{
		Document: &Document{
			Source:    "url",
			ID:        "doc-1",
			Name:      "besluit.pdf",
			URL:       "https://example.org/besluit.pdf",
			Extension: "pdf",
			Payload:   map[string]any{"extracted_text": "some extracted text"},
		},
		Validation: &Validation{
			Timestamp: ts,
			Status:    ValidationStatusValid,
			Message:   "Document passed validation checks",
		},
		PII: &PIIScan{
			HasPII:    true,
			Engine:    "naive-regex",
			Matches:   map[string][]string{"email": {"a@b.nl"}},
			Timestamp: ts,
		},
		Metadata: &Metadata{
			OfficialTitle:       "Besluit digitale overheid",
			DocumentType:        "besluit",
			Identifiers:         map[string]string{"bwb": "BWBR0001"},
			Summary:             "Kort overzicht",
			Keywords:            []string{"digitaal", "overheid"},
			IssuingAuthority:    "Ministerie van BZK",
			OfficialPublication: "Staatsblad",
			PublicationNumber:   "2024-123",
			PublicationDate:     &pubDate,
			GeographicScope:     []string{"Nederland"},
			SectorScope:         []string{},
			TargetAudience:      []string{"gemeenten"},
			HasSanctionRegime:   true,
			Amends:              []string{},
			Repeals:             []string{},
			Implements:          []string{"EU 2016/679"},
			RelatedCaseLaw:      []string{},
			LegalBasis:          []string{"Grondwet art. 110"},
			Timestamp:           ts,
		},
	}

	body, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeStringBody(t *testing.T) {
	// A JSON string whose content is the envelope object, as produced by
	// publishers that double-encode.
	body := []byte(`"{\"document\":{\"source\":\"upload\",\"name\":\"x.pdf\",\"payload\":{}},\"validation\":null,\"pii\":null,\"metadata\":null}"`)

	env, err := Decode(body)
	require.NoError(t, err)
	require.NotNil(t, env.Document)
	assert.Equal(t, "upload", env.Document.Source)
	assert.Equal(t, "x.pdf", env.Document.Name)
}

func TestDecodeMalformed(t *testing.T) {
	for name, body := range map[string][]byte{
		"not json":        []byte("{nope"),
		"array top level": []byte("[1,2,3]"),
		"string non json": []byte(`"hello there"`),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(body)
			require.Error(t, err)
			assert.True(t, IsMalformed(err))
		})
	}
}

func TestDecodeInvalidSectionsDegradeToAbsent(t *testing.T) {
	body := []byte(`{
		"document": {"source": "upload", "payload": {"extracted_text": "hi"}},
		"validation": {"status": "valid"},
		"pii": {"engine": "naive-regex"},
		"metadata": 42
	}`)

	env, err := Decode(body)
	require.NoError(t, err)
	require.NotNil(t, env.Document)
	assert.Nil(t, env.Validation, "validation without timestamp is dropped")
	assert.Nil(t, env.PII, "pii without has_pii is dropped")
	assert.Nil(t, env.Metadata)
}

func TestDecodeMissingSourceDefaults(t *testing.T) {
	env, err := Decode([]byte(`{"document": {"name": "a.pdf", "payload": {}}}`))
	require.NoError(t, err)
	assert.Equal(t, "unknown", env.Document.Source)
}

func TestDecodeDateOnlyPromotesToMidnight(t *testing.T) {
	body := []byte(`{
		"document": {"source": "s", "payload": {}},
		"metadata": {
			"official_title": "T",
			"publication_date": "2024-05-20",
			"timestamp": "2024-05-20T10:30:00"
		}
	}`)

	env, err := Decode(body)
	require.NoError(t, err)
	require.NotNil(t, env.Metadata)
	require.NotNil(t, env.Metadata.PublicationDate)
	assert.Equal(t, time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC), *env.Metadata.PublicationDate)
	assert.Equal(t, time.Date(2024, 5, 20, 10, 30, 0, 0, time.UTC), env.Metadata.Timestamp)
}

func TestDecodeMetadataCoercions(t *testing.T) {
	body := []byte(`{
		"document": {"source": "s", "payload": {}},
		"metadata": {
			"official_title": "",
			"keywords": "wet, digitaal , ",
			"has_sanction_regime": "yes",
			"identifiers": {"num": 12},
			"timestamp": "2024-05-20T10:30:00Z"
		}
	}`)

	env, err := Decode(body)
	require.NoError(t, err)
	m := env.Metadata
	require.NotNil(t, m)
	assert.Equal(t, "Unknown", m.OfficialTitle)
	assert.Equal(t, []string{"wet", "digitaal"}, m.Keywords)
	assert.True(t, m.HasSanctionRegime)
	assert.Equal(t, map[string]string{"num": "12"}, m.Identifiers)
}

func TestDecodePIILegacyMatchList(t *testing.T) {
	body := []byte(`{
		"document": {"source": "s", "payload": {}},
		"pii": {"has_pii": true, "matches": ["a@b.nl", "c@d.nl"], "timestamp": "2024-05-20T10:30:00Z"}
	}`)

	env, err := Decode(body)
	require.NoError(t, err)
	require.NotNil(t, env.PII)
	assert.Equal(t, map[string][]string{"generic": {"a@b.nl", "c@d.nl"}}, env.PII.Matches)
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "", (&Envelope{}).DocumentID())
	assert.Equal(t, "id-1", (&Envelope{Document: &Document{ID: "id-1", Name: "n"}}).DocumentID())
	assert.Equal(t, "n", (&Envelope{Document: &Document{Name: "n"}}).DocumentID())
}

func TestCloneIsDeep(t *testing.T) {
	in := &Envelope{
		Document: &Document{
			Source:  "s",
			Payload: map[string]any{"extracted_text": "t", "nested": map[string]any{"a": 1}},
		},
		PII: &PIIScan{HasPII: true, Matches: map[string][]string{"email": {"a@b.nl"}}},
	}

	out := in.Clone()
	out.Document.Payload["extracted_text"] = "changed"
	out.Document.Payload["nested"].(map[string]any)["a"] = 2
	out.PII.Matches["email"][0] = "x@y.nl"

	assert.Equal(t, "t", in.Document.Payload["extracted_text"])
	assert.Equal(t, 1, in.Document.Payload["nested"].(map[string]any)["a"])
	assert.Equal(t, "a@b.nl", in.PII.Matches["email"][0])
}
