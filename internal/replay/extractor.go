package replay

import (
	"fmt"
	"strings"

	"notifyreplay/internal/types"
)

// Markers of the upstream log formatting convention. The collector writes the
// outbound call as "... url=<U>, object=<JSON>, headers=[K: V, K: V] ...".
const (
	markerURL       = "url="
	markerObject    = "object="
	markerHeaders   = "headers=["
	urlTerminator   = ", "
	bodyTerminator  = ", headers="
	headerSeparator = ", "
	headerKVSep     = ": "
)

// Extraction field names reported in ExtractionError details.
const (
	FieldURL     = "url"
	FieldObject  = "object"
	FieldHeaders = "headers"
)

// NotificationExtractor recovers the outbound call embedded in a log message.
// Implementations must be pure functions of the message text.
type NotificationExtractor interface {
	Extract(message string) (types.RawNotification, error)
}

// MarkerExtractor is the default NotificationExtractor. It locates each of
// the url=, object= and headers=[ markers exactly once and slices the text
// between them.
type MarkerExtractor struct{}

var _ NotificationExtractor = MarkerExtractor{}

// Extract implements NotificationExtractor.
func (MarkerExtractor) Extract(message string) (types.RawNotification, error) {
	url, err := extractURL(message)
	if err != nil {
		return types.RawNotification{}, err
	}
	body, err := extractBody(message)
	if err != nil {
		return types.RawNotification{}, err
	}
	lines, err := extractHeaderLines(message)
	if err != nil {
		return types.RawNotification{}, err
	}

	return types.RawNotification{
		URL:         url,
		Body:        body,
		HeaderLines: lines,
	}, nil
}

// locateOnce returns the offset just past the single occurrence of marker.
func locateOnce(message, marker, field string) (int, error) {
	switch n := strings.Count(message, marker); n {
	case 0:
		return 0, types.ExtractionError(field, fmt.Sprintf("marker %q not found", marker))
	case 1:
		return strings.Index(message, marker) + len(marker), nil
	default:
		return 0, types.ExtractionError(field, fmt.Sprintf("marker %q is ambiguous (%d occurrences)", marker, n))
	}
}

// extractURL returns the text between url= and the following ", ". The URL
// never spans lines.
func extractURL(message string) (string, error) {
	start, err := locateOnce(message, markerURL, FieldURL)
	if err != nil {
		return "", err
	}
	rest := message[start:]
	end := strings.Index(rest, urlTerminator)
	if end < 0 {
		return "", types.ExtractionError(FieldURL, "no delimiter after url")
	}
	url := rest[:end]
	if strings.ContainsAny(url, "\r\n") {
		return "", types.ExtractionError(FieldURL, "url is not terminated on its line")
	}
	if url == "" {
		return "", types.ExtractionError(FieldURL, "url is empty")
	}
	return url, nil
}

// extractBody returns the text between object= and ", headers=". The body is
// a JSON document and may contain commas and line breaks.
func extractBody(message string) (string, error) {
	start, err := locateOnce(message, markerObject, FieldObject)
	if err != nil {
		return "", err
	}
	rest := message[start:]
	end := strings.Index(rest, bodyTerminator)
	if end < 0 {
		return "", types.ExtractionError(FieldObject, fmt.Sprintf("no %q after object", bodyTerminator))
	}
	return rest[:end], nil
}

// extractHeaderLines returns the "Key: Value" entries inside headers=[...].
// The closing bracket is the one that balances the opening bracket.
func extractHeaderLines(message string) ([]string, error) {
	start, err := locateOnce(message, markerHeaders, FieldHeaders)
	if err != nil {
		return nil, err
	}

	depth := 1
	end := -1
	for i := start; i < len(message) && end < 0; i++ {
		switch message[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				end = i
			}
		}
	}
	if end < 0 {
		return nil, types.ExtractionError(FieldHeaders, "header list is not closed")
	}

	inner := message[start:end]
	if inner == "" {
		return nil, nil
	}
	return strings.Split(inner, headerSeparator), nil
}

// ParseHeaders splits each "Key: Value" line on its first ": ". Later
// duplicates of a key overwrite the value but keep the first position.
func ParseHeaders(lines []string) (types.Headers, error) {
	headers := make(types.Headers, 0, len(lines))
	for _, line := range lines {
		key, value, ok := strings.Cut(line, headerKVSep)
		if !ok {
			return nil, types.HeaderFormatError(line)
		}
		headers.Set(key, value)
	}
	return headers, nil
}
