package api

type QueryRequest struct {
	Query     string `json:"query" binding:"required"`
	SessionID string `json:"session_id,omitempty"`
}

type QueryResponse struct {
	Response string `json:"response"`
}

type StreamRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}
