// Package catalog holds the static office and service configuration consumed
// by ticket validation. The catalog collaborator supplies it at startup; it is
// immutable while the engine runs.
package catalog

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"govqueue/pkg/domain"
)

// OtherService is the reserved service name that accepts a bounded free-text
// description instead of a fixed catalog entry.
const OtherService = "Other"

// MaxServiceNameLen bounds service names and free-text "Other" descriptions.
const MaxServiceNameLen = 500

// Office is a service-providing entity with one or more named services.
type Office struct {
	ID       domain.OfficeID `yaml:"id" json:"id"`
	Name     string          `yaml:"name" json:"name"`
	Address  string          `yaml:"address" json:"address,omitempty"`
	Phone    string          `yaml:"phone" json:"phone,omitempty"`
	Active   bool            `yaml:"active" json:"active"`
	Services []Service       `yaml:"services" json:"services"`
}

// Service is a named service an office offers.
type Service struct {
	Name string `yaml:"name" json:"name"`
	Code string `yaml:"code" json:"code"`
	Type string `yaml:"type" json:"type,omitempty"`
	// EstimatedDuration is the advertised per-visit duration in minutes,
	// used by the estimator until enough completions accumulate.
	EstimatedDuration int  `yaml:"estimated_duration" json:"estimated_duration"`
	Active            bool `yaml:"active" json:"active"`
}

// Catalog is the loaded office configuration with index structures for
// validation lookups.
type Catalog struct {
	offices []Office
	byID    map[domain.OfficeID]*Office
}

type catalogFile struct {
	Offices []Office `yaml:"offices"`
}

// Load reads a catalog YAML file.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(raw)
}

// Parse builds a catalog from YAML bytes.
func Parse(raw []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(file.Offices)
}

// New builds a catalog from already-decoded offices.
func New(offices []Office) (*Catalog, error) {
	c := &Catalog{
		offices: offices,
		byID:    make(map[domain.OfficeID]*Office, len(offices)),
	}
	for i := range offices {
		office := &c.offices[i]
		if office.ID == "" {
			return nil, fmt.Errorf("catalog office %d has no id", i)
		}
		if office.Name == "" {
			return nil, fmt.Errorf("catalog office %q has no name", office.ID)
		}
		if _, dup := c.byID[office.ID]; dup {
			return nil, fmt.Errorf("duplicate office id %q", office.ID)
		}
		seen := make(map[string]struct{}, len(office.Services))
		for _, svc := range office.Services {
			if svc.Name == "" || len(svc.Name) > MaxServiceNameLen {
				return nil, fmt.Errorf("office %q has an invalid service name", office.ID)
			}
			if _, dup := seen[svc.Name]; dup {
				return nil, fmt.Errorf("office %q lists service %q twice", office.ID, svc.Name)
			}
			seen[svc.Name] = struct{}{}
		}
		c.byID[office.ID] = office
	}
	return c, nil
}

// Offices returns all offices in catalog order.
func (c *Catalog) Offices() []Office {
	return c.offices
}

// Office returns the office with the given id.
func (c *Catalog) Office(id domain.OfficeID) (Office, bool) {
	office, ok := c.byID[id]
	if !ok {
		return Office{}, false
	}
	return *office, true
}

// OffersService reports whether the office offers the named service, either
// as an exact catalog entry or through its free-text "Other" variant.
func (c *Catalog) OffersService(id domain.OfficeID, serviceName string) bool {
	office, ok := c.byID[id]
	if !ok || !office.Active {
		return false
	}
	hasOther := false
	for _, svc := range office.Services {
		if !svc.Active {
			continue
		}
		if svc.Name == serviceName {
			return true
		}
		if svc.Name == OtherService {
			hasOther = true
		}
	}
	return hasOther
}

// ServiceDuration returns the catalog's advertised duration for a service,
// or zero when the catalog carries none. Free-text services inherit the
// "Other" entry's duration.
func (c *Catalog) ServiceDuration(id domain.OfficeID, serviceName string) time.Duration {
	office, ok := c.byID[id]
	if !ok {
		return 0
	}
	var other time.Duration
	for _, svc := range office.Services {
		d := time.Duration(svc.EstimatedDuration) * time.Minute
		if svc.Name == serviceName {
			return d
		}
		if svc.Name == OtherService {
			other = d
		}
	}
	return other
}
