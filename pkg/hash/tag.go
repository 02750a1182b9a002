package hash

import "strings"

// ShardKey returns the part of key that decides its shard. If key contains a
// "{" followed later by a "}", and the text between the first "{" and the
// first "}" after it is non-empty, that text is used. Otherwise the whole key
// is. This matches Redis Cluster hash tags, so "user:{42}:name" and
// "user:{42}:email" land on the same server.
func ShardKey(key string) string {
	start := strings.IndexByte(key, '{')
	if start < 0 {
		return key
	}
	end := strings.IndexByte(key[start+1:], '}')
	if end <= 0 {
		return key
	}
	return key[start+1 : start+1+end]
}
