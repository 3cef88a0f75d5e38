package mls

func dup(in []byte) []byte {
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

// zeroize overwrites a secret buffer in place. Ephemeral secrets (path
// secrets, HPKE shared secrets, derived keys) are zeroized as soon as a
// holder is done with them; this does not protect copies a caller kept
// elsewhere.
func zeroize(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

func validateEnum(v interface{}, known ...interface{}) error {
	for _, kv := range known {
		if v == kv {
			return nil
		}
	}
	return codecErrorf("unknown enum value: %v", v)
}
