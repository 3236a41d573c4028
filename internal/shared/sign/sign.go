// Package sign implements the request signing scheme shared with merchants:
// non-empty params sorted by key, joined as k=v&... with the auth token
// appended, hashed with MD5 and lowercased.
package sign

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// Generate computes the signature for params with the given token.
func Generate(params map[string]string, token string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	sb.WriteString(token)

	sum := md5.Sum([]byte(sb.String()))
	return strings.ToLower(hex.EncodeToString(sum[:]))
}

// Verify reports whether signature matches params signed with token.
func Verify(params map[string]string, token, signature string) bool {
	return signature != "" && Generate(params, token) == signature
}
