package export

// Event is one EDL edit: a span of a source placed on a sequence's record
// timeline.
type Event struct {
	Sequence    int
	Reel        string
	Track       string
	ClipName    string
	MediaPath   string
	SourceInMs  int
	SourceOutMs int
	RecordInMs  int
	Looping     bool
}

func (e Event) DurationMs() int {
	return e.SourceOutMs - e.SourceInMs
}

type ExportResponse struct {
	Status     string `json:"status"`
	Format     string `json:"format"`
	OutputPath string `json:"output_path,omitempty"`
	EventCount int    `json:"event_count"`
	EDL        string `json:"edl,omitempty"`
}
