package condition

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// ListingClassifier decides whether a URL is a listing page (search,
// category, tag) rather than a single video page. Rules are per host with a
// default expression for everything else.
type ListingClassifier struct {
	eval        *Evaluator
	defaultExpr string
	hostRules   map[string]string
}

// NewListingClassifier compiles the default and every host rule up front so
// a bad expression fails at startup
func NewListingClassifier(defaultExpr string, hostRules map[string]string) (*ListingClassifier, error) {
	eval, err := NewEvaluator()
	if err != nil {
		return nil, err
	}
	if err := eval.Compile(defaultExpr); err != nil {
		return nil, fmt.Errorf("default listing expression: %w", err)
	}

	rules := make(map[string]string, len(hostRules))
	for host, expr := range hostRules {
		if err := eval.Compile(expr); err != nil {
			return nil, fmt.Errorf("listing expression for %s: %w", host, err)
		}
		rules[strings.ToLower(strings.TrimPrefix(host, "www."))] = expr
	}

	return &ListingClassifier{eval: eval, defaultExpr: defaultExpr, hostRules: rules}, nil
}

// LoadHostRules reads a JSON object of host -> expression. An empty path
// yields no rules.
func LoadHostRules(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read listing rules: %w", err)
	}
	var rules map[string]string
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse listing rules %s: %w", path, err)
	}
	return rules, nil
}

// IsListing reports whether rawURL should go through link discovery
func (c *ListingClassifier) IsListing(rawURL string) (bool, error) {
	return c.eval.Evaluate(c.exprFor(rawURL), rawURL)
}

func (c *ListingClassifier) exprFor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return c.defaultExpr
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	for host != "" {
		if expr, ok := c.hostRules[host]; ok {
			return expr
		}
		_, rest, found := strings.Cut(host, ".")
		if !found {
			break
		}
		host = rest
	}
	return c.defaultExpr
}
