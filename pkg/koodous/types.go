// ABOUTME: Resource types exchanged with the Koodous API
// ABOUTME: APK summaries, analyses, comments, votes, rulesets, users and page envelopes

package koodous

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// APK is the sample summary returned by search and ruleset listings.
type APK struct {
	SHA256           string    `json:"sha256"`
	SHA1             string    `json:"sha1,omitempty"`
	MD5              string    `json:"md5,omitempty"`
	App              string    `json:"app,omitempty"`
	PackageName      string    `json:"package_name,omitempty"`
	Company          string    `json:"company,omitempty"`
	DisplayedVersion string    `json:"displayed_version,omitempty"`
	Size             int64     `json:"size,omitempty"`
	Image            string    `json:"image,omitempty"`
	Tags             []string  `json:"tags,omitempty"`
	Rating           int       `json:"rating,omitempty"`
	Repo             string    `json:"repo,omitempty"`
	OnDevices        bool      `json:"on_devices,omitempty"`
	Trusted          bool      `json:"trusted,omitempty"`
	Corrupted        bool      `json:"corrupted,omitempty"`
	Analyzed         bool      `json:"analyzed,omitempty"`
	Detected         bool      `json:"detected,omitempty"`
	Stored           bool      `json:"stored,omitempty"`
	IsAPK            bool      `json:"is_apk,omitempty"`
	CreatedOn        Timestamp `json:"created_on,omitempty"`
}

// Analysis is an analysis report returned verbatim by the service.
// Numbers are kept as json.Number so re-encoding is lossless.
type Analysis map[string]any

// Author identifies the analyst that wrote a comment.
type Author struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Comment is a free-text note attached to a sample.
type Comment struct {
	ID        int64     `json:"id"`
	Author    Author    `json:"author"`
	Text      string    `json:"text"`
	CreatedOn Timestamp `json:"created_on,omitempty"`
}

// VoteKind is the polarity of a vote.
type VoteKind string

// Vote kinds accepted by the service.
const (
	VotePositive VoteKind = "positive"
	VoteNegative VoteKind = "negative"
)

// ParseVoteKind validates a vote kind, case-insensitively.
func ParseVoteKind(s string) (VoteKind, error) {
	switch k := VoteKind(strings.ToLower(strings.TrimSpace(s))); k {
	case VotePositive, VoteNegative:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVoteKind, s)
	}
}

// VoteResult echoes the kind recorded by VoteAPK.
type VoteResult struct {
	Kind VoteKind `json:"kind"`
}

// Vote is one analyst's verdict on a sample.
type Vote struct {
	Kind      VoteKind  `json:"kind"`
	Analyst   string    `json:"analyst"`
	CreatedOn Timestamp `json:"created_on,omitempty"`
}

// VoteList is the vote listing for a sample.
type VoteList struct {
	Count   int    `json:"count"`
	Results []Vote `json:"results"`
}

// Ruleset is the metadata of a public ruleset.
type Ruleset struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	Rules            string    `json:"rules,omitempty"`
	Analyst          string    `json:"analyst,omitempty"`
	SocialDetections bool      `json:"social_detections,omitempty"`
	CreatedOn        Timestamp `json:"created_on"`
	ModifiedOn       Timestamp `json:"modified_on,omitempty"`
}

// User is the identity record of an analyst.
type User struct {
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
	Karma     int    `json:"karma,omitempty"`
}

// page is the paginated envelope used by listing endpoints.
type page[T any] struct {
	Count    int    `json:"count"`
	Next     string `json:"next"`
	Previous string `json:"previous"`
	Results  []T    `json:"results"`
}

// Timestamp is a point in time sent either as unix seconds or as an
// RFC 3339 string. It always serializes back to unix seconds.
type Timestamp int64

// Time returns the timestamp as a UTC time.Time.
func (t Timestamp) Time() time.Time { return time.Unix(int64(t), 0).UTC() }

// Unix returns the timestamp in seconds.
func (t Timestamp) Unix() int64 { return int64(t) }

// UnmarshalJSON accepts integers, floats, numeric strings and RFC 3339 strings.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*t = 0
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("unmarshal timestamp: %w", err)
		}
		if parsed, err := time.Parse(time.RFC3339Nano, str); err == nil {
			*t = Timestamp(parsed.Unix())
			return nil
		}
		s = str
	}

	n := json.Number(s)
	if i, err := n.Int64(); err == nil {
		*t = Timestamp(i)
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("unmarshal timestamp %s: unsupported format", s)
	}
	*t = Timestamp(int64(f))
	return nil
}
