package api

// SubmitMessageRequest is the HTTP request body for POST /api/v1/sessions/:id/messages.
type SubmitMessageRequest struct {
	Text string `json:"text"`
}
