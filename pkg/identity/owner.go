package identity

import "time"

// OwnerKind discriminates individual and organization owners.
type OwnerKind string

const (
	OwnerIndividual   OwnerKind = "individual"
	OwnerOrganization OwnerKind = "organization"
)

// Owner is the thin resource-ownership pointer. Every hosted application
// and every license belongs to exactly one Owner; the concrete entity
// behind it is a Subject.
type Owner struct {
	ID    int64     `json:"id"`
	Kind  OwnerKind `json:"kind"`
	State Status    `json:"status"`
}

// Exists reports whether the owner is persisted.
func (o *Owner) Exists() bool { return o != nil && o.ID > 0 }

// Subject is the resolved entity behind an Owner: an Organization or a
// User acting as an individual owner.
type Subject interface {
	SubjectID() int64
	SubjectName() string
	SubjectKind() OwnerKind
}

// Organization is a multi-member owner subject.
type Organization struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	State       Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (o *Organization) SubjectID() int64       { return o.ID }
func (o *Organization) SubjectName() string    { return o.Name }
func (o *Organization) SubjectKind() OwnerKind { return OwnerOrganization }
