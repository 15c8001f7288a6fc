package ws

import (
	"fmt"

	"realtime-chat/backend/internal/models"
)

// Profile is a preset pair of input and response sources for a chat page
type Profile struct {
	Name           string
	InputSource    models.Source
	ResponseSource models.Source
}

// Profiles served by /ws
var Profiles = map[string]Profile{
	// a shopper talking to the sales assistant
	"customer": {Name: "customer", InputSource: models.SourceCustomer, ResponseSource: models.SourceBruvi},
	// a human operator answering by hand
	"human": {Name: "human", InputSource: models.SourceHuman, ResponseSource: models.SourceNull},
}

// resolveProfile picks the named profile and applies source overrides.
// Empty arguments keep the profile values. The response override is taken
// as is; an unservable one is reported when the first message is sent.
func resolveProfile(name, fallback, input, response string) (Profile, error) {
	if name == "" {
		name = fallback
	}
	p, ok := Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q", name)
	}

	if input != "" {
		s, err := models.ParseSource(input)
		if err != nil {
			return Profile{}, err
		}
		p.InputSource = s
	}
	if response != "" {
		p.ResponseSource = models.Source(response)
	}
	return p, nil
}
