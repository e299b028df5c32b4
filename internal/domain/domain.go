package domain

import "fmt"

// Stage is a position in the curation pipeline. Order matters for progress.
type Stage string

const (
	StageEntry       Stage = "entry"
	StagePrecuration Stage = "precuration"
	StageCuration    Stage = "curation"
	StageReview      Stage = "review"
	StageActive      Stage = "active"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageEntry, StagePrecuration, StageCuration, StageReview, StageActive}

// Index returns the position of s in the pipeline, or -1 for unknown stages.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Stage) Valid() bool { return s.Index() >= 0 }

func ParseStage(v string) (Stage, error) {
	s := Stage(v)
	if !s.Valid() {
		return "", fmt.Errorf("invalid stage %q", v)
	}
	return s, nil
}

type Role string

const (
	RoleViewer     Role = "viewer"
	RoleCurator    Role = "curator"
	RoleReviewer   Role = "reviewer"
	RoleScopeAdmin Role = "scope_admin"
	RoleAdmin      Role = "admin"
)

var Roles = []Role{RoleViewer, RoleCurator, RoleReviewer, RoleScopeAdmin, RoleAdmin}

func (r Role) Valid() bool {
	for _, known := range Roles {
		if known == r {
			return true
		}
	}
	return false
}

func ParseRole(v string) (Role, error) {
	r := Role(v)
	if !r.Valid() {
		return "", fmt.Errorf("invalid role %q", v)
	}
	return r, nil
}

// ItemType is the storage and wire discriminator of a WorkItem.
type ItemType string

const (
	ItemPrecuration ItemType = "precuration"
	ItemCuration    ItemType = "curation"
	ItemActive      ItemType = "active"
)

func ParseItemType(v string) (ItemType, error) {
	switch t := ItemType(v); t {
	case ItemPrecuration, ItemCuration, ItemActive:
		return t, nil
	}
	return "", fmt.Errorf("invalid item type %q", v)
}

type ItemRef struct {
	ID   string   `json:"id"`
	Type ItemType `json:"type" enum:"precuration,curation,active"`
}

func (r ItemRef) String() string { return string(r.Type) + "/" + r.ID }

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Active    bool   `json:"active"`
	Admin     bool   `json:"admin"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ScopeMember struct {
	ScopeID string `json:"scope_id"`
	UserID  string `json:"user_id"`
	Role    Role   `json:"role"`
}
