package model

import "time"

// Snapshot is the persisted working set: every active order and rider plus
// the next order ID to hand out.
type Snapshot struct {
	Orders  []Order   `json:"orders"`
	Riders  []Rider   `json:"riders"`
	NextID  int64     `json:"nextId"`
	SavedAt time.Time `json:"savedAt"`
}

// Subscription is an outbound webhook target.
type Subscription struct {
	ID     string   `json:"id" yaml:"id"`
	URL    string   `json:"url" yaml:"url" validate:"required,url"`
	Events []string `json:"events" yaml:"events" validate:"required,min=1,dive,required"`
	Secret string   `json:"secret,omitempty" yaml:"secret"`
}

// Matches reports whether the subscription wants eventType. "*" matches all.
func (s Subscription) Matches(eventType string) bool {
	for _, e := range s.Events {
		if e == "*" || e == eventType {
			return true
		}
	}
	return false
}
