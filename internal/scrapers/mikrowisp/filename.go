package mikrowisp

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"wispfetch/lib/htmlutil"
)

const maxNameLen = 50

var (
	nameUnsafe  = regexp.MustCompile(`[^a-zA-Z0-9\s-]`)
	fieldUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// SanitizeName drops accents, keeps ASCII letters, digits, spaces and dashes,
// turns whitespace runs into underscores and caps the result at 50 characters.
func SanitizeName(name string) string {
	name = htmlutil.StripAccents(name)
	name = nameUnsafe.ReplaceAllString(name, "")
	name = strings.TrimSpace(name)
	name = whitespace.ReplaceAllString(name, "_")
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return name
}

func sanitizeField(s string) string {
	return fieldUnsafe.ReplaceAllString(strings.TrimSpace(s), "")
}

// fileDate renders a DD/MM/YYYY date as YYYY-MM-DD, anything else has its
// slashes replaced so it stays a single path segment.
func fileDate(s string) string {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.Format(time.DateOnly)
	}
	return sanitizeField(strings.ReplaceAll(s, "/", "-"))
}

// Filename is <date>_<clientId>_<clientName>_<recordNumber>.pdf. It depends only
// on the record, so a re-run overwrites instead of duplicating.
func Filename(r Record) string {
	name := SanitizeName(r.ClientName)
	if name == "" {
		name = "Cliente"
	}
	clientID := sanitizeField(r.ClientID)
	if clientID == "" {
		clientID = "0"
	}
	return fmt.Sprintf("%s_%s_%s_%s.pdf", fileDate(r.DateField()), clientID, name, sanitizeField(r.RecordNumber))
}
