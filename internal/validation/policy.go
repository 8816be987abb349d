// Package validation checks signup fields against the waitlist policy.
package validation

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var defaultPolicyYAML []byte

// Policy is the data half of validation: the disposable-domain block-set and
// the service-area allow-set. It can change without a code change.
type Policy struct {
	DisposableDomains   []string `yaml:"disposable_domains" json:"disposable_domains"`
	ServiceAreaPrefixes []string `yaml:"service_area_prefixes" json:"service_area_prefixes"`
}

// DefaultPolicy returns the embedded policy document.
func DefaultPolicy() (*Policy, error) {
	return ParsePolicy(defaultPolicyYAML)
}

// LoadPolicy reads a policy document from path. An empty path yields the
// embedded default.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a YAML policy document and normalizes its entries.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}

	p.DisposableDomains = normalizeList(p.DisposableDomains, strings.ToLower)
	p.ServiceAreaPrefixes = normalizeList(p.ServiceAreaPrefixes, func(s string) string {
		return strings.ReplaceAll(strings.ToUpper(s), " ", "")
	})

	return &p, nil
}

// Marshal encodes the policy back to YAML.
func (p *Policy) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}

func normalizeList(in []string, norm func(string) string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = norm(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
