package schema

// SeekMode is the playback mode of a stream synchronizer.
type SeekMode string

const (
	// SeekLive forwards live instructions to the sink.
	SeekLive SeekMode = "live"
	// SeekSeeking suppresses live instructions in favor of a requested window.
	SeekSeeking SeekMode = "seeking"
)

// SeekState describes the synchronizer playback mode.
type SeekState struct {
	Mode       SeekMode
	TargetLine *int
}

// StreamStats counts instructions handled by a synchronizer.
type StreamStats struct {
	Forwarded  int
	Buffered   int
	Suppressed int
	Discarded  int
	Windows    int
}
