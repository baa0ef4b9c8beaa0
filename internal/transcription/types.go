package transcription

// Segment is one timed span of a transcription with the engine's decoding metrics
type Segment struct {
	ID               int     `json:"id"`
	Seek             int     `json:"seek"`
	Start            float64 `json:"start"`
	End              float64 `json:"end"`
	Text             string  `json:"text"`
	Tokens           []int   `json:"tokens"`
	Temperature      float64 `json:"temperature"`
	AvgLogprob       float64 `json:"avg_logprob"`
	CompressionRatio float64 `json:"compression_ratio"`
	NoSpeechProb     float64 `json:"no_speech_prob"`
}

// Result is a parsed relay transcription
type Result struct {
	Text     string    `json:"transcription"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language,omitempty"`
}

// Response is the relay's success envelope for POST /transcribe
type Response struct {
	Success       bool      `json:"success"`
	Transcription string    `json:"transcription"`
	Segments      []Segment `json:"segments"`
	Language      string    `json:"language,omitempty"`
}

// ErrorResponse is the relay's failure envelope
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is the relay's GET /health body
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
