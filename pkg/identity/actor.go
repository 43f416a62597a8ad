package identity

import (
	"sort"
	"time"
)

// ActorType discriminates the polymorphic actor variants.
type ActorType string

const (
	ActorUser           ActorType = "user"
	ActorServiceAccount ActorType = "service_account"
	ActorOrgMember      ActorType = "org_member"
)

// Status is the lifecycle state shared by actors and owners.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDisabled  Status = "disabled"
)

// existence is the memoized result of an entity existence check. It
// replaces the nullable-boolean pattern: Unknown until first resolved,
// then cached on the instance.
type existence int

const (
	existenceUnknown existence = iota
	existenceConfirmed
	existenceMissing
)

// Actor is an identity capable of authenticating. An actor whose id is not
// positive is non-persisted and treated as "does not exist".
type Actor interface {
	ActorID() int64
	DisplayName() string
	ActorStatus() Status
	Type() ActorType
	AvatarRef() string
	Exists() bool
}

// User is a human actor.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
	State     Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	resolved existence
}

func (u *User) ActorID() int64      { return u.ID }
func (u *User) DisplayName() string { return u.Name }
func (u *User) ActorStatus() Status { return u.State }
func (u *User) Type() ActorType     { return ActorUser }
func (u *User) AvatarRef() string   { return u.Avatar }

// Exists reports whether the user is persisted. A store-confirmed result
// is memoized on the instance; otherwise a positive id is the signal.
func (u *User) Exists() bool {
	switch u.resolved {
	case existenceConfirmed:
		return true
	case existenceMissing:
		return false
	default:
		return u.ID > 0
	}
}

func (u *User) markExists(found bool) {
	if found {
		u.resolved = existenceConfirmed
		return
	}
	u.resolved = existenceMissing
}

// SubjectID lets a User act as the subject behind an individual owner.
func (u *User) SubjectID() int64       { return u.ID }
func (u *User) SubjectName() string    { return u.Name }
func (u *User) SubjectKind() OwnerKind { return OwnerIndividual }

// ServiceAccount is a non-human actor authenticating with a hashed API
// key. The plaintext key is returned exactly once at creation time and is
// never persisted.
type ServiceAccount struct {
	ID         int64      `json:"id"`
	OwnerID    int64      `json:"owner_id"`
	Identifier string     `json:"identifier"`
	KeyHash    string     `json:"-"`
	State      Status     `json:"status"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`

	resolved existence
}

func (s *ServiceAccount) ActorID() int64      { return s.ID }
func (s *ServiceAccount) DisplayName() string { return s.Identifier }
func (s *ServiceAccount) ActorStatus() Status { return s.State }
func (s *ServiceAccount) Type() ActorType     { return ActorServiceAccount }
func (s *ServiceAccount) AvatarRef() string   { return "" }

func (s *ServiceAccount) Exists() bool {
	switch s.resolved {
	case existenceConfirmed:
		return true
	case existenceMissing:
		return false
	default:
		return s.ID > 0
	}
}

func (s *ServiceAccount) markExists(found bool) {
	if found {
		s.resolved = existenceConfirmed
		return
	}
	s.resolved = existenceMissing
}

// OrgMember wraps a User with membership metadata scoped to one
// organization.
type OrgMember struct {
	User

	OrgID         int64     `json:"org_id"`
	MemberRole    string    `json:"member_role"`
	JoinedAt      time.Time `json:"joined_at"`
	RoleUpdatedAt time.Time `json:"role_updated_at"`
}

func (m *OrgMember) Type() ActorType { return ActorOrgMember }

// OrgMembers is the member collection of a single organization, keyed by
// member id. The collection exclusively owns its entries.
type OrgMembers struct {
	orgID   int64
	members map[int64]*OrgMember
}

// NewOrgMembers creates an empty collection for the given organization.
func NewOrgMembers(orgID int64) *OrgMembers {
	return &OrgMembers{orgID: orgID, members: make(map[int64]*OrgMember)}
}

// Add stores the member, replacing any entry with the same id. Members
// from another organization are rejected.
func (c *OrgMembers) Add(m *OrgMember) bool {
	if m == nil || m.ID <= 0 || m.OrgID != c.orgID {
		return false
	}
	c.members[m.ID] = m
	return true
}

// Get returns the member with the given id, or nil.
func (c *OrgMembers) Get(id int64) *OrgMember {
	return c.members[id]
}

// Remove deletes the member with the given id.
func (c *OrgMembers) Remove(id int64) {
	delete(c.members, id)
}

// All returns the members ordered by user id.
func (c *OrgMembers) All() []*OrgMember {
	out := make([]*OrgMember, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the member count.
func (c *OrgMembers) Len() int { return len(c.members) }

// OrgID returns the owning organization id.
func (c *OrgMembers) OrgID() int64 { return c.orgID }
