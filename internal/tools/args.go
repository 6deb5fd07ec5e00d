package tools

import (
	"fmt"

	"github.com/google/uuid"
)

func argString(args map[string]any, key string, required bool) (string, error) {
	v, ok := args[key]
	if !ok {
		if required {
			return "", fmt.Errorf("missing required argument %q", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

func argUUID(args map[string]any, key string) (uuid.UUID, error) {
	s, err := argString(args, key, true)
	if err != nil {
		return uuid.UUID{}, err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("argument %q is not a valid id: %w", key, err)
	}
	return id, nil
}

func argInt(args map[string]any, key string, required bool, def int) (int, error) {
	v, ok := args[key]
	if !ok {
		if required {
			return 0, fmt.Errorf("missing required argument %q", key)
		}
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("argument %q must be a number", key)
	}
}

func argStringSlice(args map[string]any, key string, required bool) ([]string, error) {
	v, ok := args[key]
	if !ok {
		if required {
			return nil, fmt.Errorf("missing required argument %q", key)
		}
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("argument %q must be an array of strings", key)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q must be an array of strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}

func argIntSlice(args map[string]any, key string, required bool) ([]int, error) {
	v, ok := args[key]
	if !ok {
		if required {
			return nil, fmt.Errorf("missing required argument %q", key)
		}
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("argument %q must be an array of integers", key)
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		switch n := item.(type) {
		case float64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		default:
			return nil, fmt.Errorf("argument %q must be an array of integers", key)
		}
	}
	return out, nil
}

func argObject(args map[string]any, key string) map[string]any {
	v, ok := args[key]
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m
}
