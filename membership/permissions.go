package membership

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Flags is a normalized permission record: field name to boolean value.
type Flags map[string]bool

const (
	canPrefix = "can_"
	isPrefix  = "is_"
)

// AdminRights extracts the administrator-rights record from a raw
// chat member payload: every boolean field named can_* or is_*.
// Filtering is prefix-based so fields added by future Bot API versions
// pass through without code changes.
func AdminRights(payload json.RawMessage) (Flags, error) {
	return extractFlags(payload, canPrefix, isPrefix)
}

// RestrictionFlags extracts the restriction record from a raw chat
// member payload: every boolean field named can_*.
func RestrictionFlags(payload json.RawMessage) (Flags, error) {
	return extractFlags(payload, canPrefix)
}

func extractFlags(payload json.RawMessage, prefixes ...string) (Flags, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, errors.Wrap(err, "unable to decode chat member payload")
	}
	flags := make(Flags)
	for name, value := range fields {
		if !hasAnyPrefix(name, prefixes) {
			continue
		}
		b, ok := value.(bool)
		if !ok {
			continue
		}
		flags[name] = b
	}
	return flags, nil
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
