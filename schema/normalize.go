package schema

import (
	"strings"
	"unicode"
)

// ValidateUserID ensures a user id matches [a-z0-9._@+-] with no normalization.
func ValidateUserID(userID UserID) error {
	raw := string(userID)
	if raw == "" {
		return ErrInvalidUser
	}
	if strings.TrimSpace(raw) != raw || strings.Trim(raw, ".") == "" {
		return ErrInvalidUser
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		switch r {
		case '.', '_', '-', '@', '+':
			continue
		}
		return ErrInvalidUser
	}
	return nil
}

// NormalizeTag trims and lower-cases a tag. Tags may not contain whitespace
// or slashes.
func NormalizeTag(tag string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(tag))
	if trimmed == "" {
		return "", ErrInvalidTag
	}
	for _, r := range trimmed {
		if unicode.IsSpace(r) || r == '/' || !unicode.IsPrint(r) {
			return "", ErrInvalidTag
		}
	}
	return trimmed, nil
}

// NormalizeTags normalizes tags and drops duplicates, keeping first-seen order.
func NormalizeTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if strings.TrimSpace(tag) == "" {
			continue
		}
		normalized, err := NormalizeTag(tag)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out, nil
}

// SplitTags splits a comma or space separated tag list.
func SplitTags(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
