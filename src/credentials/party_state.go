package credentials

import (
	"fmt"
	"sort"
	"sync"

	cm "github.com/mosaicnetworks/echo/src/common"
)

// Member is an identity admitted into a party.
type Member struct {
	IdentityKey string `json:"identityKey"`
	Role        Role   `json:"role"`
	AdmittedBy  string `json:"admittedBy"`
}

// FeedInfo describes an admitted feed.
type FeedInfo struct {
	FeedKey     string      `json:"feedKey"`
	DeviceKey   string      `json:"deviceKey,omitempty"`
	IdentityKey string      `json:"identityKey,omitempty"`
	Designation Designation `json:"designation"`
}

// Change reports what a processed credential added. Both fields are nil when
// the credential was a repeat of an earlier one.
type Change struct {
	Member *Member
	Feed   *FeedInfo
}

// StateSnapshot is the serializable form of a PartyState.
type StateSnapshot struct {
	PartyKey    string     `json:"partyKey"`
	GenesisFeed string     `json:"genesisFeed"`
	Members     []Member   `json:"members"`
	Feeds       []FeedInfo `json:"feeds"`
}

// PartyState folds credentials into the membership and feed set of one party.
// Process is called by the party's inbound pipeline only; the accessors are
// safe for concurrent use.
type PartyState struct {
	sync.RWMutex
	partyKey    string
	genesisFeed string
	members     map[string]*Member
	feeds       map[string]*FeedInfo
}

// NewPartyState ...
func NewPartyState(partyKey string) *PartyState {
	return &PartyState{
		partyKey: partyKey,
		members:  make(map[string]*Member),
		feeds:    make(map[string]*FeedInfo),
	}
}

// Process validates the credential found on feedKey and applies it. An
// IntegrityErr means the credential was rejected and the state is unchanged.
func (s *PartyState) Process(c *Credential, feedKey string) (Change, error) {
	if err := c.Verify(); err != nil {
		return Change{}, err
	}

	a := c.Assertion

	if a.PartyKey != s.partyKey {
		return Change{}, s.reject(a, "credential for another party")
	}

	s.Lock()
	defer s.Unlock()

	if a.Kind == PartyGenesis {
		return s.processGenesis(c, feedKey)
	}

	if s.genesisFeed == "" {
		return Change{}, s.reject(a, "credential before genesis")
	}

	switch a.Kind {
	case PartyMember:
		if !s.isAdmin(c.Signer) {
			return Change{}, s.reject(a, "signer is not an admin")
		}

		if _, ok := s.members[a.IdentityKey]; ok {
			return Change{}, nil
		}

		m := &Member{
			IdentityKey: a.IdentityKey,
			Role:        a.Role,
			AdmittedBy:  c.Signer,
		}
		s.members[m.IdentityKey] = m

		return Change{Member: m}, nil

	case AdmittedFeed:
		if _, ok := s.members[a.IdentityKey]; !ok {
			return Change{}, s.reject(a, "feed owner is not a member")
		}

		if !s.isAdmin(c.Signer) && c.Signer != a.IdentityKey {
			return Change{}, s.reject(a, "signer may not admit this feed")
		}

		if _, ok := s.feeds[a.FeedKey]; ok {
			return Change{}, nil
		}

		f := &FeedInfo{
			FeedKey:     a.FeedKey,
			DeviceKey:   a.DeviceKey,
			IdentityKey: a.IdentityKey,
			Designation: a.Designation,
		}
		s.feeds[f.FeedKey] = f

		return Change{Feed: f}, nil
	}

	return Change{}, s.reject(a, "unexpected kind")
}

func (s *PartyState) processGenesis(c *Credential, feedKey string) (Change, error) {
	a := c.Assertion

	if c.Signer != s.partyKey {
		return Change{}, s.reject(a, "genesis not signed by the party key")
	}

	if a.FeedKey != feedKey {
		return Change{}, s.reject(a, "genesis written outside its own feed")
	}

	if s.genesisFeed != "" {
		if s.genesisFeed == a.FeedKey {
			return Change{}, nil
		}
		return Change{}, s.reject(a, "second genesis")
	}

	s.genesisFeed = a.FeedKey

	f := &FeedInfo{
		FeedKey:     a.FeedKey,
		Designation: Control,
	}
	s.feeds[f.FeedKey] = f

	return Change{Feed: f}, nil
}

func (s *PartyState) isAdmin(key string) bool {
	if key == s.partyKey {
		return true
	}
	m, ok := s.members[key]
	return ok && m.Role == Admin
}

func (s *PartyState) reject(a Assertion, reason string) error {
	return cm.NewIntegrityErr("credential",
		fmt.Sprintf("%s rejected in party %s: %s", a.Kind, cm.ShortKey(s.partyKey), reason))
}

// PartyKey ...
func (s *PartyState) PartyKey() string {
	return s.partyKey
}

// GenesisFeed returns the genesis control feed, once the genesis credential
// has been processed.
func (s *PartyState) GenesisFeed() string {
	s.RLock()
	defer s.RUnlock()
	return s.genesisFeed
}

// IsMember ...
func (s *PartyState) IsMember(identityKey string) bool {
	s.RLock()
	defer s.RUnlock()
	_, ok := s.members[identityKey]
	return ok
}

// Member returns a copy of the member record.
func (s *PartyState) Member(identityKey string) (Member, bool) {
	s.RLock()
	defer s.RUnlock()
	m, ok := s.members[identityKey]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

// IsFeedAdmitted ...
func (s *PartyState) IsFeedAdmitted(feedKey string) bool {
	s.RLock()
	defer s.RUnlock()
	_, ok := s.feeds[feedKey]
	return ok
}

// Feed returns a copy of the feed record.
func (s *PartyState) Feed(feedKey string) (FeedInfo, bool) {
	s.RLock()
	defer s.RUnlock()
	f, ok := s.feeds[feedKey]
	if !ok {
		return FeedInfo{}, false
	}
	return *f, true
}

// CanWrite reports whether mutations found on feedKey should be applied: the
// feed is an admitted data feed and its owner is a member with write access.
func (s *PartyState) CanWrite(feedKey string) bool {
	s.RLock()
	defer s.RUnlock()

	f, ok := s.feeds[feedKey]
	if !ok || f.Designation != Data {
		return false
	}
	m, ok := s.members[f.IdentityKey]
	return ok && m.Role != Reader
}

// Members returns the members ordered by identity key.
func (s *PartyState) Members() []Member {
	s.RLock()
	defer s.RUnlock()

	res := make([]Member, 0, len(s.members))
	for _, m := range s.members {
		res = append(res, *m)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].IdentityKey < res[j].IdentityKey })
	return res
}

// Feeds returns the admitted feeds ordered by feed key.
func (s *PartyState) Feeds() []FeedInfo {
	s.RLock()
	defer s.RUnlock()

	res := make([]FeedInfo, 0, len(s.feeds))
	for _, f := range s.feeds {
		res = append(res, *f)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].FeedKey < res[j].FeedKey })
	return res
}

// Snapshot ...
func (s *PartyState) Snapshot() StateSnapshot {
	return StateSnapshot{
		PartyKey:    s.partyKey,
		GenesisFeed: s.GenesisFeed(),
		Members:     s.Members(),
		Feeds:       s.Feeds(),
	}
}

// Restore replaces the state with a snapshot of the same party.
func (s *PartyState) Restore(snap StateSnapshot) error {
	if snap.PartyKey != s.partyKey {
		return fmt.Errorf("snapshot of party %s cannot restore %s", snap.PartyKey, s.partyKey)
	}

	s.Lock()
	defer s.Unlock()

	s.genesisFeed = snap.GenesisFeed
	s.members = make(map[string]*Member, len(snap.Members))
	for i := range snap.Members {
		m := snap.Members[i]
		s.members[m.IdentityKey] = &m
	}
	s.feeds = make(map[string]*FeedInfo, len(snap.Feeds))
	for i := range snap.Feeds {
		f := snap.Feeds[i]
		s.feeds[f.FeedKey] = &f
	}

	return nil
}
