// Package models defines the platform's entities: users, projects, samples,
// sequencing data, analysis submissions and federation records.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Role is a system-wide authority granted to a user.
type Role string

const (
	RoleAnonymous  Role = "ROLE_ANONYMOUS"
	RoleUser       Role = "ROLE_USER"
	RoleManager    Role = "ROLE_MANAGER"
	RoleSequencer  Role = "ROLE_SEQUENCER"
	RoleTechnician Role = "ROLE_TECHNICIAN"
	RoleAdmin      Role = "ROLE_ADMIN"
)

// Roles lists every assignable role.
func Roles() []Role {
	return []Role{RoleUser, RoleManager, RoleSequencer, RoleTechnician, RoleAdmin}
}

// AsRole parses a role name, accepting the name with or without the ROLE_ prefix.
func AsRole(name string) (Role, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(upper, "ROLE_") {
		upper = "ROLE_" + upper
	}
	for _, r := range append(Roles(), RoleAnonymous) {
		if string(r) == upper {
			return r, nil
		}
	}
	return "", fmt.Errorf("'%s' is not a role", name)
}

// User is a platform account.
type User struct {
	ID                    int64      `json:"id" db:"id"`
	Username              string     `json:"username" db:"username"`
	Email                 string     `json:"email" db:"email"`
	FirstName             string     `json:"first_name" db:"first_name"`
	LastName              string     `json:"last_name" db:"last_name"`
	PhoneNumber           string     `json:"phone_number" db:"phone_number"`
	Password              string     `json:"-" db:"password"`
	Role                  Role       `json:"system_role" db:"system_role"`
	Enabled               bool       `json:"enabled" db:"enabled"`
	CredentialsNonExpired bool       `json:"credentials_non_expired" db:"credentials_non_expired"`
	LastLogin             *time.Time `json:"last_login,omitempty" db:"last_login"`
	CreatedDate           time.Time  `json:"created_date" db:"created_date"`
	ModifiedDate          *time.Time `json:"modified_date,omitempty" db:"modified_date"`
}

// Label is the display name of the user.
func (u *User) Label() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// ProjectRole is the authority a user holds on a single project.
type ProjectRole string

const (
	ProjectUser  ProjectRole = "PROJECT_USER"
	ProjectOwner ProjectRole = "PROJECT_OWNER"
)

// AsProjectRole parses a project role name.
func AsProjectRole(name string) (ProjectRole, error) {
	switch ProjectRole(strings.ToUpper(name)) {
	case ProjectUser:
		return ProjectUser, nil
	case ProjectOwner:
		return ProjectOwner, nil
	}
	return "", fmt.Errorf("'%s' is not a project role", name)
}

// Project groups samples and the users allowed to see them.
type Project struct {
	ID           int64      `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	Organism     string     `json:"organism,omitempty" db:"organism"`
	Description  string     `json:"description,omitempty" db:"description"`
	RemoteURL    string     `json:"remote_url,omitempty" db:"remote_url"`
	CreatedDate  time.Time  `json:"created_date" db:"created_date"`
	ModifiedDate *time.Time `json:"modified_date,omitempty" db:"modified_date"`
}

// ProjectUserJoin relates a user to a project with a role.
type ProjectUserJoin struct {
	ProjectID   int64       `json:"project_id"`
	UserID      int64       `json:"user_id"`
	Role        ProjectRole `json:"project_role"`
	CreatedDate time.Time   `json:"created_date"`
}

// Sample is a biological sample collected for sequencing.
type Sample struct {
	ID                 int64      `json:"id" db:"id"`
	SampleName         string     `json:"sample_name" db:"sample_name"`
	Description        string     `json:"description,omitempty" db:"description"`
	Organism           string     `json:"organism,omitempty" db:"organism"`
	Strain             string     `json:"strain,omitempty" db:"strain"`
	CollectedBy        string     `json:"collected_by,omitempty" db:"collected_by"`
	GeographicLocation string     `json:"geographic_location_name,omitempty" db:"geographic_location_name"`
	IsolationSource    string     `json:"isolation_source,omitempty" db:"isolation_source"`
	CollectionDate     *time.Time `json:"collection_date,omitempty" db:"collection_date"`
	CreatedDate        time.Time  `json:"created_date" db:"created_date"`
	ModifiedDate       *time.Time `json:"modified_date,omitempty" db:"modified_date"`
}

// ProjectSampleJoin relates a sample to a project.
type ProjectSampleJoin struct {
	ProjectID   int64     `json:"project_id"`
	SampleID    int64     `json:"sample_id"`
	Owner       bool      `json:"owner"`
	CreatedDate time.Time `json:"created_date"`
}
