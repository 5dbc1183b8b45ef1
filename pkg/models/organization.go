package models

import "time"

// School is the organization (tenant) a user belongs to.
type School struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// Membership relates a user to the single school they currently belong to
type Membership struct {
	UserID    string    `json:"user_id" db:"user_id"`
	SchoolID  string    `json:"school_id" db:"school_id"`
	Role      Role      `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// MembershipConflict is surfaced when accepting an invitation would move the
// user out of their current school.
type MembershipConflict struct {
	Current School `json:"current"`
	Target  School `json:"target"`
}

// DetectConflict returns a conflict only when current is set and differs from target.
func DetectConflict(current *School, target School) *MembershipConflict {
	if current == nil || current.ID == "" || current.ID == target.ID {
		return nil
	}
	return &MembershipConflict{Current: *current, Target: target}
}
