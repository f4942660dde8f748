package pipeline

// Subjects stamped on messages per transition, purely informational for
// consumers and tracing.
const (
	SubjectDocumentProcessed   = "document_processed"
	SubjectDocumentValidated   = "document_validated"
	SubjectPIIScanned          = "pii_scanned"
	SubjectMetadataExtracted   = "metadata_extracted"
	SubjectEmbeddingsGenerated = "embeddings_generated"
)

// Route binds a stage to its input queue and downstream destinations. A
// terminal stage has no destinations and no subject.
type Route struct {
	Stage        string
	Queue        string
	Subject      string
	Destinations []string
}

// Terminal reports whether the stage forwards nowhere.
func (r Route) Terminal() bool { return len(r.Destinations) == 0 }

// Topology is the fixed processing graph. Queue names equal stage names;
// the extractor fans out to three destinations.
func Topology() []Route {
	return []Route{
		{
			Stage:        StageIngestion,
			Queue:        StageIngestion,
			Subject:      SubjectDocumentProcessed,
			Destinations: []string{StageValidation},
		},
		{
			Stage:        StageValidation,
			Queue:        StageValidation,
			Subject:      SubjectDocumentValidated,
			Destinations: []string{StagePIIScanning},
		},
		{
			Stage:        StagePIIScanning,
			Queue:        StagePIIScanning,
			Subject:      SubjectPIIScanned,
			Destinations: []string{StageExtractor},
		},
		{
			Stage:        StageExtractor,
			Queue:        StageExtractor,
			Subject:      SubjectMetadataExtracted,
			Destinations: []string{StageEmbedding, StageSearchIndex, StageNotification},
		},
		{
			Stage:        StageEmbedding,
			Queue:        StageEmbedding,
			Subject:      SubjectEmbeddingsGenerated,
			Destinations: []string{StageDataStorage},
		},
		{Stage: StageDataStorage, Queue: StageDataStorage},
		{Stage: StageSearchIndex, Queue: StageSearchIndex},
		{Stage: StageNotification, Queue: StageNotification},
	}
}

// RouteFor returns the route for a stage name.
func RouteFor(stage string) (Route, bool) {
	for _, r := range Topology() {
		if r.Stage == stage {
			return r, true
		}
	}
	return Route{}, false
}

// StageNames returns all stage names in topology order.
func StageNames() []string {
	routes := Topology()
	out := make([]string, 0, len(routes))
	for _, r := range routes {
		out = append(out, r.Stage)
	}
	return out
}
