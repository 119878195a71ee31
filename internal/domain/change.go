package domain

import (
	"strings"
	"time"
)

// DateLayout is the YYYY-MM-DD layout used for the --after flag and Gerrit's after: predicate.
const DateLayout = "2006-01-02"

// Credentials are optional per-host credentials. Username and Password select
// HTTP Basic Auth; Token selects an OAuth2 bearer token.
type Credentials struct {
	Username string
	Password string
	Token    string
}

// Usable reports whether the credentials can authenticate a request.
func (c *Credentials) Usable() bool {
	if c == nil {
		return false
	}
	return c.Token != "" || (c.Username != "" && c.Password != "")
}

// HostSpec is a resolved Gerrit host. BaseURL is an absolute http(s) URL with no trailing slash.
type HostSpec struct {
	Alias       string
	BaseURL     string
	Credentials *Credentials
}

// Authenticated reports whether requests to this host carry credentials.
func (h HostSpec) Authenticated() bool {
	return h.Credentials.Usable()
}

// OwnerKind distinguishes the forms an owner identifier can take.
type OwnerKind int

const (
	OwnerSelf OwnerKind = iota
	OwnerEmail
	OwnerUsername
)

// OwnerRef identifies whose changes are queried.
type OwnerRef struct {
	Kind  OwnerKind
	Value string
}

// ParseOwner classifies an owner identifier: "self", an email address, or a username.
func ParseOwner(s string) OwnerRef {
	s = strings.TrimSpace(s)
	switch {
	case strings.EqualFold(s, "self"):
		return OwnerRef{Kind: OwnerSelf, Value: "self"}
	case strings.Contains(s, "@"):
		return OwnerRef{Kind: OwnerEmail, Value: s}
	default:
		return OwnerRef{Kind: OwnerUsername, Value: s}
	}
}

// String returns the owner as it appears in a Gerrit owner: predicate.
func (o OwnerRef) String() string {
	if o.Kind == OwnerSelf {
		return "self"
	}
	return o.Value
}

// ChangeQuery describes one aggregation run.
// After, when set, is a UTC midnight; changes merged before it are ignored.
type ChangeQuery struct {
	Owner OwnerRef
	After *time.Time
	Hosts []HostSpec
}

// ChangeStatus is the lifecycle state of a Gerrit change, as spelled on the wire.
type ChangeStatus string

const (
	StatusMerged    ChangeStatus = "MERGED"
	StatusAbandoned ChangeStatus = "ABANDONED"
	StatusOpen      ChangeStatus = "NEW"
)

// ChangeRecord is a single change fetched from one host.
type ChangeRecord struct {
	HostAlias  string
	Project    string
	Branch     string
	Subject    string
	ChangeID   string
	Number     int
	Status     ChangeStatus
	CreatedAt  time.Time
	MergedAt   *time.Time
	Insertions uint
	Deletions  uint
}

// ChangeKey identifies a change across hosts.
type ChangeKey struct {
	HostAlias string
	ChangeID  string
}

// Key returns the record's identity key.
func (r ChangeRecord) Key() ChangeKey {
	return ChangeKey{HostAlias: r.HostAlias, ChangeID: r.ChangeID}
}

// ReviewEvent is one change the owner reviewed on someone else's behalf.
// At is when the owner first commented on it, or the change's last update
// when no comment of theirs could be matched.
type ReviewEvent struct {
	HostAlias string
	ChangeID  string
	Project   string
	At        time.Time
}

// Key returns the event's identity key.
func (e ReviewEvent) Key() ChangeKey {
	return ChangeKey{HostAlias: e.HostAlias, ChangeID: e.ChangeID}
}

// ParseDate parses a YYYY-MM-DD string into a UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, &DateError{Value: s, Err: err}
	}
	return t.UTC(), nil
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts whole UTC calendar days from from to to. It works on
// Unix seconds so ranges longer than time.Duration can hold stay exact.
func DaysBetween(from, to time.Time) int {
	return int((Day(to).Unix() - Day(from).Unix()) / secondsPerDay)
}

const secondsPerDay = 24 * 60 * 60

// WeekStart returns the Monday that begins the ISO week containing t.
func WeekStart(t time.Time) time.Time {
	d := Day(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}
