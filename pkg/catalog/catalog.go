// Package catalog holds the static lab-type catalog: which sandbox images
// can be provisioned and how each one is isolated.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/bagleyctf/labrange/pkg/types"
)

// builtin is the default catalog, used when no override file is given.
// Ports are the single exposed service port of each image.
var builtin = []types.LabType{
	{
		ID:          "dvwa",
		Name:        "Damn Vulnerable Web Application",
		Image:       "vulnerables/web-dvwa",
		Category:    "web",
		Difficulty:  "beginner",
		Port:        80,
		Description: "Practice SQL injection, XSS, command injection",
		Tmpfs: []string{
			"/var/lib/mysql:rw,noexec,nosuid,size=100m",
			"/var/run/mysqld:rw,noexec,nosuid,size=10m",
			"/var/log:rw,noexec,nosuid,size=50m",
			"/tmp:rw,noexec,nosuid,size=50m",
		},
	},
	{
		ID:          "webgoat",
		Name:        "OWASP WebGoat",
		Image:       "webgoat/webgoat:latest",
		Category:    "web",
		Difficulty:  "beginner",
		Port:        8080,
		Description: "OWASP Top 10 practice environment",
		Tmpfs: []string{
			"/home/webgoat/.webgoat:rw,noexec,nosuid,size=100m",
			"/tmp:rw,noexec,nosuid,size=50m",
		},
	},
	{
		ID:          "juice-shop",
		Name:        "OWASP Juice Shop",
		Image:       "bkimminich/juice-shop",
		Category:    "web",
		Difficulty:  "beginner",
		Port:        3000,
		Description: "Modern web application vulnerabilities",
		Tmpfs: []string{
			"/juice-shop/data:rw,noexec,nosuid,size=100m",
			"/tmp:rw,noexec,nosuid,size=50m",
		},
	},
	{
		ID:          "metasploitable",
		Name:        "Metasploitable 2",
		Image:       "tleemcjr/metasploitable2",
		Category:    "system",
		Difficulty:  "intermediate",
		Port:        22,
		Description: "Full penetration testing environment",
		Tmpfs: []string{
			"/var/log:rw,noexec,nosuid,size=50m",
			"/tmp:rw,noexec,nosuid,size=50m",
		},
	},
	{
		ID:          "crypto-lab",
		Name:        "Cryptography Lab",
		Image:       "custom/crypto-tools",
		Category:    "challenge",
		Difficulty:  "beginner",
		Port:        7681,
		Description: "Pre-installed crypto tools (hashcat, john, rockyou.txt)",
		Tmpfs: []string{
			"/tmp:rw,noexec,nosuid,size=100m",
			"/home/challenge:rw,noexec,nosuid,size=50m",
		},
	},
	{
		ID:          "forensics-lab",
		Name:        "Digital Forensics Lab",
		Image:       "custom/forensics-tools",
		Category:    "challenge",
		Difficulty:  "intermediate",
		Port:        7681,
		Description: "Forensics tools (volatility, binwalk, foremost)",
		Tmpfs: []string{
			"/tmp:rw,noexec,nosuid,size=100m",
			"/home/challenge:rw,noexec,nosuid,size=50m",
		},
	},
}

// Catalog is an immutable lookup of available lab types
type Catalog struct {
	byID  map[string]types.LabType
	order []string
}

// New builds a catalog from the given lab types
func New(labTypes []types.LabType) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]types.LabType, len(labTypes))}
	for _, lt := range labTypes {
		if lt.ID == "" {
			return nil, fmt.Errorf("lab type with empty id")
		}
		if lt.Image == "" {
			return nil, fmt.Errorf("lab type %s has no image", lt.ID)
		}
		if _, dup := c.byID[lt.ID]; dup {
			return nil, fmt.Errorf("duplicate lab type: %s", lt.ID)
		}
		c.byID[lt.ID] = lt
		c.order = append(c.order, lt.ID)
	}
	return c, nil
}

// Builtin returns the compiled-in default catalog
func Builtin() *Catalog {
	c, err := New(builtin)
	if err != nil {
		// The builtin table is validated by tests; this cannot fail
		panic(err)
	}
	return c
}

// Load reads a catalog from a YAML file. A missing file falls back to
// the builtin catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Builtin(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Builtin(), nil
		}
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	var labTypes []types.LabType
	if err := yaml.Unmarshal(data, &labTypes); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return New(labTypes)
}

// Get returns the lab type with the given id
func (c *Catalog) Get(id string) (types.LabType, bool) {
	lt, ok := c.byID[id]
	return lt, ok
}

// List returns all lab types in declaration order
func (c *Catalog) List() []types.LabType {
	out := make([]types.LabType, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// IDs returns the sorted lab type identifiers, used in "unknown lab
// type" error messages.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of lab types
func (c *Catalog) Len() int {
	return len(c.byID)
}
