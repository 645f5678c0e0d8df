package types

// Model describes one entry of the current model source.
type Model struct {
	// File name of the model.
	// example: tinyllama-1.1b-q4_k_m.gguf
	Name string `json:"name" example:"tinyllama-1.1b-q4_k_m.gguf"`
	// Where the model is copied from (folder file or URL).
	// example: /mnt/usb/models/tinyllama-1.1b-q4_k_m.gguf
	Source string `json:"source" example:"/mnt/usb/models/tinyllama-1.1b-q4_k_m.gguf"`
	// Local path the model is loaded from once acquired.
	// example: /home/me/.llamachat/models/tinyllama-1.1b-q4_k_m.gguf
	LocalPath string `json:"local_path" example:"/home/me/.llamachat/models/tinyllama-1.1b-q4_k_m.gguf"`
	// Whether the local copy already exists.
	// example: true
	Resident bool `json:"resident" example:"true"`
}

// Turn is one transcript entry.
type Turn struct {
	// Monotonic position in the session.
	// example: 3
	Position int64 `json:"position" example:"3"`
	// One of user, assistant, system.
	// example: assistant
	Origin string `json:"origin" example:"assistant"`
	// Text accumulated so far.
	// example: Hello
	Text string `json:"text" example:"Hello"`
	// True while the assistant turn is still receiving fragments.
	// example: false
	Open bool `json:"open" example:"false"`
}
