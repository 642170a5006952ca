package match

// Glob reports whether s matches pattern, where '*' matches any run of
// characters and '?' exactly one. Both strings should already be folded.
func Glob(pattern, s string) bool {
	p := []rune(pattern)
	r := []rune(s)

	pi, si := 0, 0
	star, mark := -1, 0
	for si < len(r) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == r[si]):
			pi++
			si++
		case pi < len(p) && p[pi] == '*':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}
