// Package translator converts chat payloads between the OpenAI, Gemini and
// Claude wire formats. All conversions operate directly on raw JSON bytes
// using gjson/sjson so that unknown extension fields never force a schema
// change here.
package translator

import (
	"fmt"

	"github.com/aibridge-io/aibridge/internal/constant"
)

// Class identifies which kind of payload is being converted.
type Class int

const (
	// Request is an inbound generation request body.
	Request Class = iota
	// Response is a complete (non-streaming) generation response body.
	Response
	// StreamChunk is a single streaming delta payload.
	StreamChunk
	// ModelList is a model catalog listing body.
	ModelList
)

func (c Class) String() string {
	switch c {
	case Request:
		return "request"
	case Response:
		return "response"
	case StreamChunk:
		return "stream-chunk"
	case ModelList:
		return "model-list"
	}
	return "unknown"
}

// UnsupportedConversionError reports a conversion pair that has no wired
// implementation.
type UnsupportedConversionError struct {
	Class Class
	From  constant.Protocol
	To    constant.Protocol
}

func (e *UnsupportedConversionError) Error() string {
	return fmt.Sprintf("unsupported conversion: %s from %s to %s", e.Class, e.From, e.To)
}

// Convert translates data of the given class from one protocol to another.
// When from equals to, data is returned unchanged. The model argument is
// used wherever the target format requires a model name the source payload
// does not carry.
func Convert(data []byte, class Class, from, to constant.Protocol, model string) ([]byte, error) {
	if from == to {
		return data, nil
	}

	switch to {
	case constant.ProtocolOpenAI:
		switch class {
		case Request:
			return RequestToOpenAI(data, from)
		case Response:
			return ResponseToOpenAI(data, from, model)
		case StreamChunk:
			return StreamChunkToOpenAI(data, from, model)
		case ModelList:
			return ModelListToOpenAI(data, from)
		}
	case constant.ProtocolClaude:
		switch class {
		case Request:
			return RequestToClaude(data, from)
		case Response:
			return ResponseToClaude(data, from, model)
		case StreamChunk:
			return StreamChunkToClaude(data, from)
		case ModelList:
			return ModelListToClaude(data, from)
		}
	case constant.ProtocolGemini:
		switch class {
		case Request:
			return RequestToGemini(data, from)
		case Response:
			return ResponseToGemini(data, from)
		case StreamChunk:
			return StreamChunkToGemini(data, from)
		case ModelList:
			return ModelListToGemini(data, from)
		}
	}
	return nil, &UnsupportedConversionError{Class: class, From: from, To: to}
}
