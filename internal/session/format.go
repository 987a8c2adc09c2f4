package session

import (
	"strings"

	"github.com/hpungsan/studybuddy/internal/errors"
)

// Format is a download artifact format.
type Format string

const (
	FormatTxt Format = "txt"
	FormatMD  Format = "md"
)

// ParseFormat validates s against the closed set of formats.
// An empty string selects txt.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatTxt:
		return FormatTxt, nil
	case FormatMD:
		return FormatMD, nil
	default:
		return "", errors.NewValidation("format must be one of: txt, md")
	}
}

// Ext returns the file extension including the dot.
func (f Format) Ext() string {
	return "." + string(f)
}
