package types

// LoadRequest selects a model for POST /load. Model names an entry of the
// current source; Path loads a local file directly.
type LoadRequest struct {
	// example: tinyllama-1.1b-q4_k_m.gguf
	Model string `json:"model,omitempty" example:"tinyllama-1.1b-q4_k_m.gguf"`
	Path  string `json:"path,omitempty"`
}

// SubmitRequest sends a chat message for POST /submit.
type SubmitRequest struct {
	// example: Write a haiku about the ocean.
	Text string `json:"text" example:"Write a haiku about the ocean."`
}

// BenchRequest holds warmup parameters for POST /bench. Zero values use the
// defaults pp=8 tg=4 pl=1 nr=1.
type BenchRequest struct {
	PP int `json:"pp,omitempty" example:"8"`
	TG int `json:"tg,omitempty" example:"4"`
	PL int `json:"pl,omitempty" example:"1"`
	NR int `json:"nr,omitempty" example:"1"`
}

// SourceRequest changes the model source for PUT /source.
type SourceRequest struct {
	// Folder path, file:// URI or http(s) URL of a .gguf file.
	// example: /mnt/usb/models
	Source string `json:"source" example:"/mnt/usb/models"`
}

// SourceResponse reports the configured source and what it yields.
type SourceResponse struct {
	Source string  `json:"source"`
	Models []Model `json:"models"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// TranscriptResponse wraps GET /transcript.
type TranscriptResponse struct {
	Turns []Turn `json:"turns"`
}

// CancelResponse reports whether POST /cancel stopped anything.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
