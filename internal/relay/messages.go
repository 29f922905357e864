package relay

import (
	"fmt"
	"strings"
	"time"
)

// DateToken is replaced by the dispatch date in the digest header.
const DateToken = "{date}"

const dateLabelLayout = "2006-01-02 (Mon)"

// Link is one line of the digest.
type Link struct {
	Name string
	URL  string
}

// Digest is the fixed link message sent by the daily dispatch and the
// links endpoint.
type Digest struct {
	Header   string
	Title    string
	Footer   string
	Links    []Link
	Location *time.Location
}

// Build renders the digest for the calendar day of now in the digest's
// location.
func (d Digest) Build(now time.Time) string {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	label := now.In(loc).Format(dateLabelLayout)

	lines := []string{strings.ReplaceAll(d.Header, DateToken, label), ""}
	if d.Title != "" {
		lines = append(lines, d.Title)
	}
	for _, l := range d.Links {
		lines = append(lines, fmt.Sprintf("- %s: %s", l.Name, l.URL))
	}
	if d.Footer != "" {
		lines = append(lines, "", d.Footer)
	}
	return strings.Join(lines, "\n")
}

// SubmissionMessage prefixes the submitted text with its source.
func SubmissionMessage(sourceID, text string) string {
	return fmt.Sprintf("IP: %s\nMessage: %s", sourceID, text)
}

// LinksMessage prefixes an on-demand digest with its requester.
func LinksMessage(sourceID, digest string) string {
	return fmt.Sprintf("IP: %s\n%s", sourceID, digest)
}
