package models

import "time"

// RemoteAPI is a registered peer instance of the platform.
type RemoteAPI struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	ServiceURI   string    `json:"service_uri" db:"service_uri"`
	ClientID     string    `json:"client_id" db:"client_id"`
	ClientSecret string    `json:"-" db:"client_secret"`
	Description  string    `json:"description,omitempty" db:"description"`
	CreatedDate  time.Time `json:"created_date" db:"created_date"`
}

// RemoteAPIToken is an access token obtained from a peer.
type RemoteAPIToken struct {
	ID          int64     `json:"id" db:"id"`
	RemoteAPIID int64     `json:"remote_api_id" db:"remote_api_id"`
	UserID      int64     `json:"user_id" db:"user_id"`
	Token       string    `json:"-" db:"token"`
	ExpiryDate  time.Time `json:"expiry_date" db:"expiry_date"`
}

// IsExpired reports whether the token is no longer usable at now.
func (t *RemoteAPIToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiryDate)
}

// SyncStatus records the synchronization state of a remote copy.
type SyncStatus string

const (
	SyncUnsynchronized SyncStatus = "UNSYNCHRONIZED"
	SyncMarked         SyncStatus = "MARKED"
	SyncUpdating       SyncStatus = "UPDATING"
	SyncSynchronized   SyncStatus = "SYNCHRONIZED"
	SyncError          SyncStatus = "ERROR"
)

// RemoteStatus tracks where a resource read from a peer came from.
type RemoteStatus struct {
	URL         string     `json:"url"`
	APIID       int64      `json:"remote_api_id"`
	SyncStatus  SyncStatus `json:"sync_status"`
	LastUpdated time.Time  `json:"last_updated"`
}

// Relationship is a typed link between two entities.
type Relationship struct {
	ID          int64     `json:"id" db:"id"`
	SubjectType string    `json:"subject_type" db:"subject_type"`
	SubjectID   int64     `json:"subject_id" db:"subject_id"`
	Predicate   string    `json:"predicate" db:"predicate"`
	ObjectType  string    `json:"object_type" db:"object_type"`
	ObjectID    int64     `json:"object_id" db:"object_id"`
	CreatedDate time.Time `json:"created_date" db:"created_date"`
}
