package devserver

import (
	"context"
	"fmt"
	"strings"
)

// Reply is what a Responder produces for one user message
type Reply struct {
	Text             string
	PossibleDiseases []string
	Symptoms         string
	AskConfirmation  bool
}

// Responder stands in for the diagnostic logic of the real backend
type Responder interface {
	Respond(ctx context.Context, message, previousSymptoms string) (Reply, error)
}

// ResponderFunc adapts a function to Responder
type ResponderFunc func(ctx context.Context, message, previousSymptoms string) (Reply, error)

func (f ResponderFunc) Respond(ctx context.Context, message, previousSymptoms string) (Reply, error) {
	return f(ctx, message, previousSymptoms)
}

// EchoResponder acknowledges the message and accumulates it into the symptom
// context. It never suggests diseases.
type EchoResponder struct{}

func (EchoResponder) Respond(_ context.Context, message, previousSymptoms string) (Reply, error) {
	message = strings.TrimSpace(message)
	symptoms := message
	if previousSymptoms != "" {
		symptoms = previousSymptoms + "; " + message
	}
	return Reply{
		Text:             fmt.Sprintf("Đã ghi nhận: %s", message),
		PossibleDiseases: []string{},
		Symptoms:         symptoms,
		AskConfirmation:  previousSymptoms == "",
	}, nil
}
