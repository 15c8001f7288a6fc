package models

import "fmt"

// Source tags who produced a message. It is routing metadata, not a foreign key.
type Source string

// Known sources
const (
	SourceNull      Source = "null"
	SourceCustomer  Source = "customer"
	SourceHuman     Source = "assistant/human"
	SourceTinyLlama Source = "assistant/tiny_llama_1b"
	SourceOpenAI    Source = "assistant/openai" // reserved, no adapter
	SourceBruvi     Source = "assistant/bruvi"
)

var knownSources = map[Source]bool{
	SourceNull:      true,
	SourceCustomer:  true,
	SourceHuman:     true,
	SourceTinyLlama: true,
	SourceOpenAI:    true,
	SourceBruvi:     true,
}

// ResponseSources lists the values offered by the response source selector
var ResponseSources = []Source{SourceTinyLlama, SourceBruvi, SourceHuman, SourceNull}

// UnknownSourceError carries a source string that is not part of the enum
type UnknownSourceError struct {
	Value string
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("unknown source %q", e.Value)
}

// ParseSource validates a raw source string
func ParseSource(raw string) (Source, error) {
	s := Source(raw)
	if !knownSources[s] {
		return s, &UnknownSourceError{Value: raw}
	}
	return s, nil
}

// IsAssistant reports whether the source is on the responding side of the conversation
func (s Source) IsAssistant() bool {
	return s != SourceCustomer && s != SourceNull
}

func (s Source) String() string {
	return string(s)
}
