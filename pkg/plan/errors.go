package plan

import (
	"fmt"
	"strings"
)

// ConfigIssue describes one configuration problem: the offending live path
// and a human-readable detail, including every declaration site involved.
type ConfigIssue struct {
	Path   string `json:"path"   yaml:"path"`
	Detail string `json:"detail" yaml:"detail"`
}

func (i ConfigIssue) String() string {
	return fmt.Sprintf("%s: %s", i.Path, i.Detail)
}

// ConfigError aggregates every configuration problem found while
// normalizing the declared entries. All issues are collected before
// reporting so a user can fix everything in one pass; no filesystem
// mutation happens once a ConfigError is raised.
type ConfigError struct {
	Issues []ConfigIssue
}

// Error implements the error interface, listing every issue.
func (e *ConfigError) Error() string {
	if len(e.Issues) == 0 {
		return "invalid configuration"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "invalid configuration (%d issue(s)):", len(e.Issues))
	for _, issue := range e.Issues {
		b.WriteString("\n  - ")
		b.WriteString(issue.String())
	}
	return b.String()
}

func (e *ConfigError) add(path, format string, args ...any) {
	e.Issues = append(e.Issues, ConfigIssue{Path: path, Detail: fmt.Sprintf(format, args...)})
}

// orNil returns the error if any issue was collected, nil otherwise.
func (e *ConfigError) orNil() error {
	if len(e.Issues) == 0 {
		return nil
	}
	return e
}
