package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"riderdispatch/internal/model"
)

// Roster is the optional YAML file describing the depot, the riders to
// register at startup and webhook subscriptions.
//
//	depot: {lat: 12.9716, lng: 77.5946}
//	riders: [Asha, Ben]
//	webhooks:
//	  - url: https://ops.example.com/hooks/dispatch
//	    events: ["rider.assigned", "order.delivered"]
//	    secret: s3cret
type Roster struct {
	Depot    *model.GeoPoint      `yaml:"depot"`
	Riders   []string             `yaml:"riders"`
	Webhooks []model.Subscription `yaml:"webhooks"`
}

func LoadRoster(path string) (Roster, error) {
	var r Roster
	b, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("roster: %w", err)
	}
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil {
		return r, fmt.Errorf("roster %s: %w", path, err)
	}
	for i, name := range r.Riders {
		if strings.TrimSpace(name) == "" {
			return r, fmt.Errorf("roster %s: rider %d has no name", path, i+1)
		}
	}
	for i, w := range r.Webhooks {
		if w.URL == "" || len(w.Events) == 0 {
			return r, fmt.Errorf("roster %s: webhook %d needs url and events", path, i+1)
		}
	}
	return r, nil
}
