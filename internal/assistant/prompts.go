package assistant

import (
	"context"
	"fmt"
	"strings"

	"krishimitra/internal/gemini"
)

const (
	chatPersona = "You are 'Krishi Mitra', an AI assistant for Indian farmers. " +
		"You must provide all answers in English. " +
		"Your answers should be short, easy to understand, and focused on Indian agriculture " +
		"(crops, weather, government schemes, soil)."

	diagnosePersona = "You are 'Krishi Mitra', a plant pathologist helping Indian smallholder farmers. " +
		"Answer in simple English a farmer can follow without a dictionary."

	gradePersona = "You are 'Krishi Mitra', a produce quality inspector at an Indian mandi. " +
		"Be direct and practical; farmers use your grade to decide where to sell."
)

const diagnoseTemplate = `Look at this photo of a crop leaf.
1. Name the most likely disease, pest or deficiency (say "healthy" if nothing is wrong).
2. Say how sure you are: high, medium or low.
3. Give up to three treatment or prevention steps using inputs available in Indian agri shops.`

const gradeTemplate = `Grade the %s in this photo as Grade A, Grade B or Grade C.
List the visible defects (size, colour, damage, ripeness) in one or two lines,
then one line on whether to sell now, sort first, or use for processing.`

// Chat answers a free-text farming question.
func (a *Assistant) Chat(ctx context.Context, message string) Result {
	return a.run(ctx, "chat", gemini.Request{Persona: chatPersona, Prompt: strings.TrimSpace(message)})
}

// DiagnoseLeaf looks for disease in a leaf photo. note is the farmer's own
// description and may be empty.
func (a *Assistant) DiagnoseLeaf(ctx context.Context, image *gemini.Image, note string) Result {
	return a.run(ctx, "diagnose", gemini.Request{Persona: diagnosePersona, Prompt: withNote(diagnoseTemplate, note), Image: image})
}

// GradeCrop grades harvested produce from a photo.
func (a *Assistant) GradeCrop(ctx context.Context, image *gemini.Image, crop string) Result {
	crop = strings.TrimSpace(crop)
	if crop == "" {
		crop = "produce"
	}
	return a.run(ctx, "grade", gemini.Request{Persona: gradePersona, Prompt: fmt.Sprintf(gradeTemplate, crop), Image: image})
}

func withNote(prompt, note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return prompt
	}
	return prompt + "\n\nFarmer's note: " + note
}
