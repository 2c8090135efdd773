package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Link rel names shared by the API and the remote client.
const (
	RelSelf             = "self"
	RelProjectSamples   = "project/samples"
	RelSampleFiles      = "sample/sequenceFiles"
	RelSequenceFilePair = "pair"
)

// Link is a HAL-style hyperlink attached to a resource.
type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// Links is a list of links with lookup by rel.
type Links []Link

// HrefForRel returns the href of the first link with the given rel.
func (l Links) HrefForRel(rel string) (string, error) {
	for _, link := range l {
		if link.Rel == rel {
			return link.Href, nil
		}
	}
	return "", fmt.Errorf("no link with rel %q", rel)
}

// Resource wraps a single entity with its links.
type Resource[T any] struct {
	Object T     `json:"-"`
	Links  Links `json:"links"`
}

// MarshalJSON flattens the wrapped object next to its links.
func (r Resource[T]) MarshalJSON() ([]byte, error) {
	obj, err := json.Marshal(r.Object)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(obj, &fields); err != nil {
		return nil, err
	}
	links, err := json.Marshal(r.Links)
	if err != nil {
		return nil, err
	}
	fields["links"] = links
	return json.Marshal(fields)
}

// UnmarshalJSON reads the object fields and the links side by side.
func (r *Resource[T]) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &r.Object); err != nil {
		return err
	}
	var links struct {
		Links Links `json:"links"`
	}
	if err := json.Unmarshal(data, &links); err != nil {
		return err
	}
	r.Links = links.Links
	return nil
}

// ResourceList is a page of resources plus the total available.
type ResourceList[T any] struct {
	Resources      []Resource[T] `json:"resources"`
	TotalResources int           `json:"totalResources"`
	Links          Links         `json:"links"`
}

// ResourceEnvelope is the top-level JSON document the API returns.
type ResourceEnvelope[T any] struct {
	Resource T `json:"resource"`
}

// Page is a slice of a larger result set.
type Page[T any] struct {
	Content       []T `json:"content"`
	Number        int `json:"number"`
	Size          int `json:"size"`
	TotalElements int `json:"total_elements"`
}

// TotalPages is the number of pages of Size needed for TotalElements.
func (p Page[T]) TotalPages() int {
	if p.Size <= 0 {
		return 1
	}
	return (p.TotalElements + p.Size - 1) / p.Size
}

// Revision is a historical snapshot of an entity.
type Revision struct {
	ID         int64           `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   int64           `json:"entity_id"`
	Number     int64           `json:"revision_number"`
	Date       time.Time       `json:"revision_date"`
	UserID     *int64          `json:"user_id,omitempty"`
	Deleted    bool            `json:"deleted"`
	Snapshot   json.RawMessage `json:"snapshot"`
}

// Decode unmarshals the snapshot into v.
func (r *Revision) Decode(v interface{}) error {
	return json.Unmarshal(r.Snapshot, v)
}
