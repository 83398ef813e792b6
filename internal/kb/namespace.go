package kb

import (
	"errors"
	"fmt"
	"strings"
)

// SplitToken separates the knowledge base name from the collection name in a
// physical collection name. The backend has no knowledge-base concept, so the
// pair is encoded into one flat namespace. Legal names must never contain it.
const SplitToken = "_0_"

var (
	// ErrInvalidName means a knowledge base or collection name is empty or
	// contains the reserved separator.
	ErrInvalidName = errors.New("invalid name")
	// ErrMalformedName means a physical name does not contain the separator.
	ErrMalformedName = errors.New("malformed physical collection name")
)

// ComposeCollectionName maps a (kb, collection) pair to the single physical
// name used by the vector store backend. Names are trimmed before validation.
func ComposeCollectionName(kbName, collectionName string) (string, error) {
	kbName = strings.TrimSpace(kbName)
	collectionName = strings.TrimSpace(collectionName)
	if err := validateName(kbName); err != nil {
		return "", fmt.Errorf("kb_name: %w", err)
	}
	if err := validateName(collectionName); err != nil {
		return "", fmt.Errorf("collection_name: %w", err)
	}
	return kbName + SplitToken + collectionName, nil
}

// DecomposeCollectionName splits a physical name back into its (kb,
// collection) pair, splitting on the first separator occurrence.
func DecomposeCollectionName(physicalName string) (kbName, collectionName string, err error) {
	before, after, found := strings.Cut(physicalName, SplitToken)
	if !found {
		return "", "", fmt.Errorf("%w: %s", ErrMalformedName, physicalName)
	}
	return before, after, nil
}

// FilterByKB returns, in input order, the collection names of every physical
// name that belongs to the given knowledge base. Physical names without a
// separator are skipped.
func FilterByKB(kbName string, physicalNames []string) ([]string, error) {
	kbName = strings.TrimSpace(kbName)
	if err := validateName(kbName); err != nil {
		return nil, fmt.Errorf("kb_name: %w", err)
	}
	collectionNames := make([]string, 0, len(physicalNames))
	for _, physical := range physicalNames {
		owner, collection, err := DecomposeCollectionName(physical)
		if err != nil {
			continue
		}
		if owner == kbName {
			collectionNames = append(collectionNames, collection)
		}
	}
	return collectionNames, nil
}

func validateName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.Contains(name, SplitToken) {
		return fmt.Errorf("%w: %q contains reserved separator %q", ErrInvalidName, name, SplitToken)
	}
	return nil
}
