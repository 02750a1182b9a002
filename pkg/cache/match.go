package cache

// Match reports whether s matches the KEYS glob pattern: '*' matches any
// run of bytes, '?' any single byte, "[abc]" / "[^a-z]" a byte class and
// '\' escapes the next byte. Unlike path.Match, '/' is not special.
func Match(pattern, s string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			for len(pattern) > 0 && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if pattern == "" {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if Match(pattern, s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if s == "" {
				return false
			}
		case '[':
			if s == "" {
				return false
			}
			n, ok := matchClass(pattern, s[0])
			if !ok {
				return false
			}
			pattern, s = pattern[n:], s[1:]
			continue
		case '\\':
			if len(pattern) > 1 {
				pattern = pattern[1:]
			}
			fallthrough
		default:
			if s == "" || s[0] != pattern[0] {
				return false
			}
		}
		pattern, s = pattern[1:], s[1:]
	}
	return s == ""
}

// matchClass matches b against the class at the start of pattern and returns
// the class length in bytes.
func matchClass(pattern string, b byte) (int, bool) {
	i := 1
	negate := i < len(pattern) && pattern[i] == '^'
	if negate {
		i++
	}
	matched := false
	for i < len(pattern) && pattern[i] != ']' {
		lo := pattern[i]
		if lo == '\\' && i+1 < len(pattern) {
			i++
			lo = pattern[i]
		}
		hi := lo
		if i+2 < len(pattern) && pattern[i+1] == '-' && pattern[i+2] != ']' {
			hi = pattern[i+2]
			i += 2
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		if lo <= b && b <= hi {
			matched = true
		}
		i++
	}
	if i < len(pattern) {
		i++ // closing ']'
	}
	return i, matched != negate
}
