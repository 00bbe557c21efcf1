package snapshot

import (
	"fmt"
	"log"
	"strconv"
	"strings"
)

// Merge folds incoming evidence into an existing snapshot and returns the
// result as a new snapshot. A fact is replaced only when the incoming value
// is concrete and either the existing value is unknown or the incoming
// evidence confidence is at least as strong as the recorded one. Concrete
// values are never downgraded to unknown. Malformed fact paths are logged
// and skipped.
func Merge(existing *Snapshot, incoming PartialFacts) *Snapshot {
	out := existing.Clone()

	for path, fact := range incoming {
		group, key, err := splitPath(path)
		if err != nil {
			log.Printf("snapshot merge: skipping %q: %v", path, err)
			continue
		}

		if !isConcrete(fact.Value) {
			continue
		}
		if !shouldReplace(out, path, fact.Confidence) {
			continue
		}

		if err := setFact(out, group, key, fact.Value); err != nil {
			log.Printf("snapshot merge: skipping %q: %v", path, err)
			continue
		}
		out.Evidence[path] = fact.Confidence
	}

	return out
}

// FactSettled reports whether the snapshot already holds `want` at the
// given dotted path. Unknown paths and unknown markers are never settled.
func FactSettled(s *Snapshot, path string, want any) bool {
	group, key, err := splitPath(path)
	if err != nil {
		return false
	}

	switch group {
	case "accounts":
		got, ok := s.Accounts[key]
		wantStr, strOK := asString(want)
		return ok && strOK && isConcreteString(got) && got == wantStr
	case "deposit":
		got, ok := s.Deposit[key]
		wantStr, strOK := asString(want)
		return ok && strOK && isConcreteString(got) && got == wantStr
	case "agreements":
		got, ok := s.Agreements[key]
		wantBool, boolOK := asBool(want)
		return ok && boolOK && got == wantBool
	case "flags":
		got, ok := s.Flags[key]
		wantBool, boolOK := asBool(want)
		return ok && boolOK && got == wantBool
	}
	return false
}

func splitPath(path string) (group, key string, err error) {
	parts := strings.SplitN(path, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed fact path")
	}
	return parts[0], parts[1], nil
}

// shouldReplace applies the non-regressive rule: unknown facts always accept
// concrete evidence, known facts only accept equal or stronger evidence.
func shouldReplace(s *Snapshot, path string, confidence float64) bool {
	prev, known := s.Evidence[path]
	if !known {
		return true
	}
	return confidence >= prev
}

func setFact(s *Snapshot, group, key string, value any) error {
	switch group {
	case "accounts":
		str, ok := asString(value)
		if !ok {
			return fmt.Errorf("account status must be a string, got %T", value)
		}
		s.Accounts[key] = str
	case "deposit":
		str, ok := asString(value)
		if !ok {
			return fmt.Errorf("deposit field must be a string, got %T", value)
		}
		s.Deposit[key] = str
	case "agreements":
		b, ok := asBool(value)
		if !ok {
			return fmt.Errorf("agreement must be a bool, got %T", value)
		}
		s.Agreements[key] = b
	case "flags":
		b, ok := asBool(value)
		if !ok {
			return fmt.Errorf("flag must be a bool, got %T", value)
		}
		s.Flags[key] = b
	default:
		return fmt.Errorf("unknown fact group %q", group)
	}
	return nil
}

// isConcrete reports whether the value carries real information. Nil and the
// unknown markers never replace an existing fact.
func isConcrete(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return isConcreteString(v)
	default:
		return true
	}
}

func asString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	}
	return "", false
}

func asBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(v) {
		case "true", "sim":
			return true, true
		case "false", "nao", "não":
			return false, true
		}
	}
	return false, false
}
