package message

import "strings"

const sha1URNPrefix = "urn:sha1:"

// NormalizeSHA1URN returns the canonical "urn:sha1:<BASE32>" form of s. It
// accepts the prefix in any case or a bare 32-character base32 hash, and
// reports false for anything else.
func NormalizeSHA1URN(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) > len(sha1URNPrefix) && strings.EqualFold(s[:len(sha1URNPrefix)], sha1URNPrefix) {
		s = s[len(sha1URNPrefix):]
	}
	if len(s) != 32 {
		return "", false
	}
	hash := strings.ToUpper(s)
	for i := 0; i < len(hash); i++ {
		c := hash[i]
		if (c < 'A' || c > 'Z') && (c < '2' || c > '7') {
			return "", false
		}
	}
	return sha1URNPrefix + hash, true
}
