package domain

import "time"

// Profile is a snapshot of an account's public profile as returned by the
// network. The DID is the primary key everywhere; the handle is the
// human-readable name and may change between snapshots.
type Profile struct {
	DID            string  `json:"did"`
	Handle         string  `json:"handle"`
	DisplayName    string  `json:"displayName"`
	Description    *string `json:"description,omitempty"`
	FollowsCount   int64   `json:"followsCount"`
	FollowersCount int64   `json:"followersCount"`

	// CachedAt is set when the snapshot is written to the cache. It is
	// never copied from a remote response.
	CachedAt string `json:"cachedAt,omitempty"`
}

// Fresh reports whether the snapshot may substitute for a remote fetch.
// When expire is false every cached snapshot is fresh.
func (p *Profile) Fresh(now time.Time, life time.Duration, expire bool) bool {
	if !expire {
		return true
	}
	if p.CachedAt == "" {
		return false
	}
	cachedAt, err := time.Parse(time.RFC3339, p.CachedAt)
	if err != nil {
		return false
	}
	return now.Sub(cachedAt) < life
}

// Entry is one membership of a moderation list: the member's DID and the
// record key needed to delete the membership record.
type Entry struct {
	DID  string
	RKey string
}

// ListRef identifies a published list by name and AT-URI.
type ListRef struct {
	Name string
	URI  string
}

// RuleKind selects which classification rule a list applies.
type RuleKind int

const (
	// RuleFollows flags accounts whose follow count meets the threshold.
	RuleFollows RuleKind = iota

	// RuleFollowsUnverified is RuleFollows restricted to accounts still on
	// the default handle domain.
	RuleFollowsUnverified

	// RuleFollowers flags accounts whose follower count meets the threshold.
	RuleFollowers

	// RuleWords flags accounts whose profile text matches a word list.
	RuleWords
)

// ListRule configures one moderation list: its published name and
// description plus the rule that decides membership.
type ListRule struct {
	Key         string
	Name        string
	Description string
	Kind        RuleKind
	Threshold   int64

	// WordsFile is the word-list path for RuleWords lists.
	WordsFile string

	// ExceptionsFile is an optional path listing DIDs that are never added
	// to this list and are removed if present.
	ExceptionsFile string
}
