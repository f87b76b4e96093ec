package gemini

// GenerateAction is the capability a listed model must report to be selectable.
const GenerateAction = "generateContent"

// DefaultModel is used when the model listing cannot be fetched or is empty.
const DefaultModel = "gemini-2.5-flash"

// DefaultPriority is the preferred model order, most preferred first.
var DefaultPriority = []string{
	"gemini-2.5-flash",
	"gemini-2.5-flash-lite",
	"gemini-2.0-flash",
	"gemini-2.5-pro",
	"gemini-1.5-flash",
}

// Image is an inline image sent with a generation request.
type Image struct {
	Data      []byte
	MediaType string
}

// Request is one generation call: a fixed persona, the user prompt and an
// optional image.
type Request struct {
	Persona string
	Prompt  string
	Image   *Image
}
