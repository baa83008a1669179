package phi

import (
	"github.com/rs/zerolog"
)

// Codec encrypts and decrypts patient records field by field. It preserves
// the structural shape of a record exactly: mappings recurse into values,
// sequences recurse element-wise, string leaves are ciphered, and all other
// leaf types (numbers, booleans, null) pass through unchanged.
//
// The read path never fails: a value that does not decrypt (bad token,
// wrong key, plaintext written before encryption was enabled) is returned
// unchanged and counted as a passthrough so callers can treat it as a
// warning signal.
type Codec struct {
	encryptor *Encryptor
	enabled   bool
	logger    zerolog.Logger
}

// NewCodec creates a field codec from a 32-byte key.
//
// If key is empty, encryption is disabled (development mode) and a warning
// is logged: all operations become no-ops that return values as-is. A key
// of the wrong length is a hard error so the process refuses to start with
// a misconfigured key.
func NewCodec(key []byte, logger zerolog.Logger) (*Codec, error) {
	if len(key) == 0 {
		logger.Warn().Msg("field encryption disabled: no encryption key configured")
		return &Codec{enabled: false, logger: logger}, nil
	}

	enc, err := NewEncryptor(key)
	if err != nil {
		return nil, err
	}

	logger.Info().Msg("field-level encryption enabled")
	return &Codec{encryptor: enc, enabled: true, logger: logger}, nil
}

// Enabled reports whether values are actually being ciphered.
func (c *Codec) Enabled() bool {
	return c.enabled
}

// EncodeString encrypts a single string value. The empty string is returned
// unchanged so that absent/blank fields stay absent rather than becoming
// ciphertext of nothing.
func (c *Codec) EncodeString(s string) string {
	if s == "" || !c.enabled {
		return s
	}
	token, err := c.encryptor.Encrypt(s)
	if err != nil {
		// GCM encryption only fails if the nonce source does, which is
		// unrecoverable; keep the write path total and store plaintext.
		c.logger.Error().Err(err).Msg("field encode failed, storing value unciphered")
		return s
	}
	return token
}

// DecodeString decrypts a single value. The second return reports whether
// the value actually decrypted: false means the input was returned
// unchanged (empty input, disabled codec, or a token that failed to
// decrypt and is treated as already-plaintext).
func (c *Codec) DecodeString(s string) (string, bool) {
	if s == "" || !c.enabled {
		return s, false
	}
	plaintext, err := c.encryptor.Decrypt(s)
	if err != nil {
		c.logger.Debug().Err(err).Msg("field decode failed, returning value unchanged")
		return s, false
	}
	return plaintext, true
}

// EncodeStructure walks a nested mapping/sequence structure and encrypts
// every string leaf, including string elements of sequences. Keys, nesting
// and sequence lengths are preserved exactly.
func (c *Codec) EncodeStructure(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = c.EncodeStructure(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			if s, ok := item.(string); ok {
				out[i] = c.EncodeString(s)
			} else {
				out[i] = item
			}
		}
		return out
	case string:
		return c.EncodeString(val)
	default:
		return v
	}
}

// DecodeStructure reverses EncodeStructure. It returns the decoded
// structure plus the number of non-empty string leaves that did not
// decrypt and were passed through unchanged; a nonzero count on data that
// should be fully encrypted indicates corruption or a key mismatch.
func (c *Codec) DecodeStructure(v any) (any, int) {
	passthrough := 0
	out := c.decodeValue(v, &passthrough)
	return out, passthrough
}

func (c *Codec) decodeValue(v any, passthrough *int) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = c.decodeValue(item, passthrough)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			if s, ok := item.(string); ok {
				out[i] = c.decodeLeaf(s, passthrough)
			} else {
				out[i] = item
			}
		}
		return out
	case string:
		return c.decodeLeaf(val, passthrough)
	default:
		return v
	}
}

func (c *Codec) decodeLeaf(s string, passthrough *int) string {
	plaintext, decoded := c.DecodeString(s)
	if !decoded && s != "" && c.enabled {
		*passthrough++
	}
	return plaintext
}
