package generator

// ══════════════════════════════════════════════════════════════════════════════
// DATA TRANSFER OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// QuizRequestDTO is the request body for quiz generation.
type QuizRequestDTO struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// QuestionDTO is a generated quiz question as returned by the service.
type QuestionDTO struct {
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
}

// QuizResponseDTO is the response body for quiz generation.
type QuizResponseDTO struct {
	Questions []QuestionDTO `json:"questions"`
}

// PathRequestDTO is the request body for learning path generation.
type PathRequestDTO struct {
	Goal string `json:"goal"`
}

// PathNodeDTO is one node of a generated learning path.
type PathNodeDTO struct {
	ID            string   `json:"id"`
	Label         string   `json:"label"`
	Prerequisites []string `json:"prerequisites"`
	X             float64  `json:"x"`
	Y             float64  `json:"y"`
}

// PathResponseDTO is the response body for learning path generation.
type PathResponseDTO struct {
	Title string        `json:"title"`
	Nodes []PathNodeDTO `json:"nodes"`
}

// ErrorResponseDTO is the service's error envelope.
type ErrorResponseDTO struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
