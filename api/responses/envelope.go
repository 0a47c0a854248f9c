package responses

// Success wraps every 2xx body. Meta is present on list endpoints only.
type Success struct {
	Data any   `json:"data"`
	Meta *Page `json:"meta,omitempty"`
}

type Page struct {
	Limit      int    `json:"limit"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Failure wraps every error body.
type Failure struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}
