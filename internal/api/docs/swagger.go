package docs

import (
	"github.com/go-swagno/swagno"
	"github.com/go-swagno/swagno/components/endpoint"
	"github.com/go-swagno/swagno/components/http/response"
	"github.com/go-swagno/swagno/components/mime"
	"github.com/go-swagno/swagno/components/parameter"
)

// AnalysisResponse represents an analysis as returned by the API
type AnalysisResponse struct {
	ID              string       `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Status          string       `json:"status" example:"completed"`
	FileName        string       `json:"file_name" example:"interview.mp4"`
	Mode            string       `json:"mode" example:"threshold"`
	TotalFrames     int          `json:"total_frames" example:"200"`
	FPS             float64      `json:"fps" example:"30"`
	DurationSeconds float64      `json:"duration_seconds" example:"6.67"`
	FramesAnalyzed  int          `json:"frames_analyzed" example:"137"`
	SkippedChunks   int          `json:"skipped_chunks" example:"0"`
	Stats           *StatsData   `json:"stats,omitempty"`
	Verdict         *VerdictData `json:"verdict,omitempty"`
	Scores          []ScoreData  `json:"scores,omitempty"`
	Error           string       `json:"error,omitempty" example:""`
	CreatedAt       string       `json:"created_at" example:"2024-01-01T00:00:00Z"`
	UpdatedAt       string       `json:"updated_at" example:"2024-01-01T00:00:07Z"`
	CompletedAt     string       `json:"completed_at,omitempty" example:"2024-01-01T00:00:07Z"`
}

// ScoreData is the classifier output for one chunk
type ScoreData struct {
	Frame      int     `json:"frame" example:"63"`
	Score      float64 `json:"score" example:"0.9"`
	Confidence float64 `json:"confidence" example:"0.8"`
}

// ChunkStatsData counts 64-record blocks by majority label
type ChunkStatsData struct {
	Total int `json:"total" example:"2"`
	Real  int `json:"real" example:"2"`
	Fake  int `json:"fake" example:"0"`
}

// StatsData summarizes the score history
type StatsData struct {
	Total          int            `json:"total" example:"137"`
	RealCount      int            `json:"real_count" example:"137"`
	FakeCount      int            `json:"fake_count" example:"0"`
	UncertainCount int            `json:"uncertain_count" example:"0"`
	RealPct        float64        `json:"real_pct" example:"100"`
	FakePct        float64        `json:"fake_pct" example:"0"`
	AvgConfidence  float64        `json:"avg_confidence" example:"0.8"`
	MaxConfidence  float64        `json:"max_confidence" example:"0.8"`
	MinConfidence  float64        `json:"min_confidence" example:"0.8"`
	Trend          string         `json:"trend" example:"STABLE"`
	Latest         *ScoreData     `json:"latest,omitempty"`
	Chunks         ChunkStatsData `json:"chunks"`
}

// VerdictData is the video-level result
type VerdictData struct {
	Mode               string   `json:"mode" example:"threshold"`
	Label              string   `json:"label" example:"REAL"`
	RealPct            float64  `json:"real_pct" example:"100"`
	FakePct            float64  `json:"fake_pct" example:"0"`
	Confidence         float64  `json:"confidence" example:"100"`
	TotalFrames        int      `json:"total_frames" example:"200"`
	EstimatedReal      int      `json:"estimated_real" example:"200"`
	EstimatedFake      int      `json:"estimated_fake" example:"0"`
	SuspiciousSegments []string `json:"suspicious_segments" example:"00:04-00:06"`
	Reliability        string   `json:"reliability" example:"LOW"`
	PatternConsistency string   `json:"pattern_consistency" example:"High"`
}

// SimilarData is one nearest neighbour by feature fingerprint
type SimilarData struct {
	ID         string  `json:"id" example:"7c9e6679-7425-40de-944b-e07fc1f90ae7"`
	FileName   string  `json:"file_name" example:"press_conference.mp4"`
	Label      string  `json:"label" example:"REAL"`
	Similarity float64 `json:"similarity" example:"0.97"`
	CreatedAt  string  `json:"created_at" example:"2024-01-01T00:00:00Z"`
}

// SimilarResponse lists the analyses closest to the requested one
type SimilarResponse struct {
	AnalysisID string        `json:"analysis_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Matches    []SimilarData `json:"matches"`
}

// HealthResponse represents the health and readiness probes
type HealthResponse struct {
	Status  string `json:"status" example:"ok"`
	Version string `json:"version,omitempty" example:"0.1.0"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Code      string `json:"code" example:"VALIDATION_FAILED"`
	Message   string `json:"message" example:"Request validation failed"`
	RequestID string `json:"request_id,omitempty" example:"3f0c2a9e-6f1b-4a55-9d1e-0c8f2b7a4e11"`
}

// EmptyResponse represents a response without body
type EmptyResponse struct{}

var (
	errUnauthorized = response.New(ErrorResponse{Code: "UNAUTHORIZED", Message: "Invalid or missing API key"}, "401", "Unauthorized")
	errNotFound     = response.New(ErrorResponse{Code: "ANALYSIS_NOT_FOUND", Message: "Analysis not found"}, "404", "Not Found")
	errRateLimit    = response.New(ErrorResponse{Code: "RATE_LIMIT_EXCEEDED", Message: "Rate limit exceeded, please try again later"}, "429", "Too Many Requests")
	errInternal     = response.New(ErrorResponse{Code: "INTERNAL_ERROR", Message: "An unexpected error occurred"}, "500", "Internal Server Error")
	apiKeyAuth      = []map[string][]string{{"ApiKeyAuth": {}}}
)

func NewSwagger() *swagno.Swagger {
	sw := swagno.New(swagno.Config{
		Title:       "Deepscan Deepfake Detection API",
		Version:     "v1.0.0",
		Description: "Streaming deepfake analysis of uploaded videos: per-chunk scores, verdict, text report and fingerprint similarity",
		Host:        "localhost:3000",
		Path:        "/v1",
	})

	endpoints := []*endpoint.EndPoint{
		// POST /v1/analyses - Submit video
		endpoint.New(
			endpoint.POST,
			"/analyses",
			endpoint.WithTags("Analyses"),
			endpoint.WithSummary("Submit a video for analysis"),
			endpoint.WithDescription("Multipart upload. Fields: video (file, .mp4/.avi/.mov/.mkv/.webm), mode (threshold or majority, optional), callback_url (optional, receives a signed webhook when the analysis finishes). The analysis runs asynchronously; follow it with GET /analyses/{id} or the websocket stream."),
			endpoint.WithConsume([]mime.MIME{mime.MIME("multipart/form-data")}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(AnalysisResponse{}, "202", "Analysis accepted"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				response.New(ErrorResponse{Code: "VALIDATION_FAILED", Message: "Request validation failed"}, "422", "Unprocessable Entity"),
				response.New(ErrorResponse{Code: "INVALID_VIDEO", Message: "Invalid video format or corrupted file"}, "422", "Unprocessable Entity"),
				errRateLimit,
				response.New(ErrorResponse{Code: "SHUTTING_DOWN", Message: "Server is shutting down"}, "503", "Service Unavailable"),
				errInternal,
			}),
			endpoint.WithSecurity(apiKeyAuth),
		),

		// GET /v1/analyses/{id} - Analysis status and result
		endpoint.New(
			endpoint.GET,
			"/analyses/{id}",
			endpoint.WithTags("Analyses"),
			endpoint.WithSummary("Get an analysis"),
			endpoint.WithDescription("Returns status, statistics and verdict. Add include=scores for the per-chunk scores."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				parameter.StrParam("id", parameter.Path, parameter.WithDescription("Analysis UUID")),
				parameter.StrParam("include", parameter.Query, parameter.WithDescription("Set to 'scores' to include per-chunk scores")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(AnalysisResponse{}, "200", "Analysis found"),
			}),
			endpoint.WithErrors([]response.Response{errUnauthorized, errNotFound, errRateLimit, errInternal}),
			endpoint.WithSecurity(apiKeyAuth),
		),

		// DELETE /v1/analyses/{id} - Cancel
		endpoint.New(
			endpoint.DELETE,
			"/analyses/{id}",
			endpoint.WithTags("Analyses"),
			endpoint.WithSummary("Cancel a running analysis"),
			endpoint.WithDescription("Stops the pipeline. The partial result is kept and the status becomes cancelled."),
			endpoint.WithParams(parameter.StrParam("id", parameter.Path, parameter.WithDescription("Analysis UUID"))),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(EmptyResponse{}, "202", "Cancellation requested"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				errNotFound,
				response.New(ErrorResponse{Code: "ANALYSIS_FINISHED", Message: "Analysis already finished"}, "409", "Conflict"),
				errInternal,
			}),
			endpoint.WithSecurity(apiKeyAuth),
		),

		// GET /v1/analyses/{id}/report - Text report
		endpoint.New(
			endpoint.GET,
			"/analyses/{id}/report",
			endpoint.WithTags("Analyses"),
			endpoint.WithSummary("Download the text report"),
			endpoint.WithDescription("Plain text forensic report of a finished analysis. download=true sets Content-Disposition: attachment."),
			endpoint.WithProduce([]mime.MIME{mime.MIME("text/plain")}),
			endpoint.WithParams(
				parameter.StrParam("id", parameter.Path, parameter.WithDescription("Analysis UUID")),
				parameter.StrParam("download", parameter.Query, parameter.WithDescription("Set to true to serve as attachment")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(EmptyResponse{}, "200", "Report text"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				errNotFound,
				response.New(ErrorResponse{Code: "ANALYSIS_NOT_FINISHED", Message: "Analysis has not finished yet"}, "409", "Conflict"),
				errInternal,
			}),
			endpoint.WithSecurity(apiKeyAuth),
		),

		// GET /v1/analyses/{id}/similar - Fingerprint neighbours
		endpoint.New(
			endpoint.GET,
			"/analyses/{id}/similar",
			endpoint.WithTags("Analyses"),
			endpoint.WithSummary("Find similar analyses"),
			endpoint.WithDescription("Completed analyses ordered by cosine similarity of their mean feature vector."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				parameter.StrParam("id", parameter.Path, parameter.WithDescription("Analysis UUID")),
				parameter.IntParam("limit", parameter.Query, parameter.WithDescription("Maximum number of matches (1-50, default: 5)")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(SimilarResponse{}, "200", "Similar analyses"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				errNotFound,
				response.New(ErrorResponse{Code: "ANALYSIS_NOT_FINISHED", Message: "Analysis has not finished yet"}, "409", "Conflict"),
				response.New(ErrorResponse{Code: "NO_FINGERPRINT", Message: "Analysis has no feature fingerprint"}, "422", "Unprocessable Entity"),
				errInternal,
			}),
			endpoint.WithSecurity(apiKeyAuth),
		),

		// GET /v1/ws/analyses/{id} - Live stream
		endpoint.New(
			endpoint.GET,
			"/ws/analyses/{id}",
			endpoint.WithTags("Streaming"),
			endpoint.WithSummary("Live analysis events (websocket)"),
			endpoint.WithDescription("Websocket stream of analysis.score, analysis.progress, analysis.preview and the terminal analysis.completed / analysis.failed / analysis.cancelled events. The API key may be passed as api_key query parameter."),
			endpoint.WithParams(
				parameter.StrParam("id", parameter.Path, parameter.WithDescription("Analysis UUID")),
				parameter.StrParam("api_key", parameter.Query, parameter.WithDescription("API key, for clients that cannot set headers")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(EmptyResponse{}, "101", "Switching Protocols"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				response.New(ErrorResponse{Code: "HTTP_ERROR", Message: "Upgrade Required"}, "426", "Upgrade Required"),
			}),
			endpoint.WithSecurity(apiKeyAuth),
		),
	}

	sw.AddEndpoints(endpoints)

	return sw
}
