package lookup

import (
	"regexp"
	"strings"
	"time"
)

// DefaultLanguage is applied to requests that do not declare a language.
const DefaultLanguage = "unknown"

// Status is the terminal state of a single resolution.
type Status string

const (
	// StatusFound means an identifier was resolved.
	StatusFound Status = "found"
	// StatusNotFound means every source was exhausted without an acceptable candidate.
	StatusNotFound Status = "not_found"
	// StatusFailed means the request itself was unusable.
	StatusFailed Status = "failed"
	// StatusSkipped means a cancelled batch never dispatched the request.
	StatusSkipped Status = "skipped"
)

// MatchedBy records how a source matched a candidate.
type MatchedBy string

const (
	MatchedByIdentifier  MatchedBy = "identifier"
	MatchedByTitleAuthor MatchedBy = "title_author"
	MatchedByTitle       MatchedBy = "title"
)

// Attempt outcomes recorded in provenance.
const (
	OutcomeCandidate = "candidate"
	OutcomeNoMatch   = "no_match"
	OutcomeFailed    = "failed"
	OutcomeDenied    = "denied"
	OutcomeRejected  = "rejected"
)

var identifierPattern = regexp.MustCompile(`^[A-Z0-9]{10}$`)

// Request is the sparse metadata a caller wants resolved.
type Request struct {
	Title    string `json:"title"`
	Author   string `json:"author,omitempty"`
	ISBN     string `json:"isbn,omitempty"`
	Language string `json:"language,omitempty"`
}

// NewRequest trims the inputs and applies the default language.
func NewRequest(title, author, isbn, language string) Request {
	req := Request{
		Title:    strings.TrimSpace(title),
		Author:   strings.TrimSpace(author),
		ISBN:     strings.TrimSpace(isbn),
		Language: strings.TrimSpace(language),
	}
	if req.Language == "" {
		req.Language = DefaultLanguage
	}
	return req
}

// Normalized returns a copy with trimmed fields and the default language applied.
func (r Request) Normalized() Request {
	return NewRequest(r.Title, r.Author, r.ISBN, r.Language)
}

// HasISBN reports whether the request carries a usable ISBN.
func (r Request) HasISBN() bool {
	return NormalizeISBN(r.ISBN) != ""
}

// HasAuthor reports whether the request names an author.
func (r Request) HasAuthor() bool {
	return strings.TrimSpace(r.Author) != ""
}

// Valid reports whether the request carries enough data to search on.
func (r Request) Valid() bool {
	return strings.TrimSpace(r.Title) != "" || r.HasISBN()
}

// Candidate is what a source returns for a request.
type Candidate struct {
	Identifier string    `json:"identifier"`
	Confidence float64   `json:"confidence,omitempty"`
	MatchedBy  MatchedBy `json:"matched_by,omitempty"`
}

// Attempt is the provenance record for one source try.
type Attempt struct {
	Source  string  `json:"source"`
	Outcome string  `json:"outcome"`
	Score   float64 `json:"score,omitempty"`
	Err     string  `json:"error,omitempty"`
}

// Result is the outcome of resolving one request.
type Result struct {
	Request    Request       `json:"request"`
	Status     Status        `json:"status"`
	Identifier string        `json:"identifier,omitempty"`
	Source     string        `json:"source,omitempty"`
	Confidence float64       `json:"confidence"`
	Cached     bool          `json:"cached"`
	ResolvedAt time.Time     `json:"resolved_at"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Attempts   []Attempt     `json:"attempts,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Found reports whether the result carries an identifier.
func (r Result) Found() bool {
	return r.Status == StatusFound && r.Identifier != ""
}

// Skipped builds the placeholder result for an undispatched batch slot.
func Skipped(req Request) Result {
	return Result{Request: req, Status: StatusSkipped}
}

// ValidIdentifier reports whether id has the ten character catalog format.
func ValidIdentifier(id string) bool {
	return identifierPattern.MatchString(id)
}

// CanonicalIdentifier trims and upper-cases id, returning "" if the result is
// not a valid identifier.
func CanonicalIdentifier(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	if !ValidIdentifier(id) {
		return ""
	}
	return id
}
