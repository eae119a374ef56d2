// Package pullsecret validates the registry credentials document CRC needs
// to pull cluster images.
package pullsecret

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrInvalid is wrapped by every shape error returned by Validate.
var ErrInvalid = errors.New("invalid pull secret")

type registryAuth struct {
	Auth       string `json:"auth"`
	CredsStore string `json:"credsStore"`
}

type document struct {
	Auths map[string]registryAuth `json:"auths"`
}

// Validate checks that text is a pull secret CRC can use: a JSON object with a
// non-empty "auths" map whose every entry carries "auth" or "credsStore".
func Validate(text string) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return fmt.Errorf("%w: not valid JSON: %v", ErrInvalid, err)
	}

	if _, ok := raw["auths"]; !ok {
		return fmt.Errorf("%w: missing \"auths\"", ErrInvalid)
	}

	var doc document
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return fmt.Errorf("%w: \"auths\" must map registries to credentials: %v", ErrInvalid, err)
	}
	if len(doc.Auths) == 0 {
		return fmt.Errorf("%w: \"auths\" is empty", ErrInvalid)
	}

	registries := make([]string, 0, len(doc.Auths))
	for registry := range doc.Auths {
		registries = append(registries, registry)
	}
	sort.Strings(registries)

	for _, registry := range registries {
		entry := doc.Auths[registry]
		if entry.Auth == "" && entry.CredsStore == "" {
			return fmt.Errorf("%w: \"auths\" entry %q has neither \"auth\" nor \"credsStore\"", ErrInvalid, registry)
		}
	}
	return nil
}
