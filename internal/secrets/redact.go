package secrets

import "encoding/json"

const redactedPlaceholder = "[redacted]"

// RedactPolicy decides which payload fields must never reach the Task
// Store. The field list is held in a private Vault and is fixed when the
// policy is built; RedactPolicy offers no way to reload or extend it.
type RedactPolicy struct {
	fields *Vault
}

// NewRedactPolicy builds a RedactPolicy that treats the given field names
// as secret.
func NewRedactPolicy(secretFields ...string) *RedactPolicy {
	values := make(map[string]string, len(secretFields))
	for _, f := range secretFields {
		values[f] = "1"
	}
	v, _ := NewVault(func() (map[string]string, error) { return values, nil })
	return &RedactPolicy{fields: v}
}

// IsSecret reports whether field is marked as a secret payload field.
func (p *RedactPolicy) IsSecret(field string) bool {
	return p.fields.Get(field) != ""
}

// Redact returns a copy of a JSON object payload with every field marked
// secret replaced by a placeholder. Non-object payloads are returned
// unchanged, since there are no named fields to redact.
func (p *RedactPolicy) Redact(payload []byte) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return payload
	}

	changed := false
	placeholder, _ := json.Marshal(redactedPlaceholder)
	for field := range obj {
		if p.IsSecret(field) {
			obj[field] = placeholder
			changed = true
		}
	}
	if !changed {
		return payload
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return payload
	}
	return out
}
