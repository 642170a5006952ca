package state

import (
	"strings"

	"golang.org/x/text/secure/precis"
)

// Casemapping folds a nick or channel name into its comparison form
type Casemapping func(string) string

// CasemapASCII folds A-Z only
func CasemapASCII(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if 'A' <= r && r <= 'Z' {
			r += 'a' - 'A'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// CasemapRFC1459 folds A-Z plus the scandinavian []\~ -> {}|^ pairs
func CasemapRFC1459(name string) string {
	return foldRFC1459(name, true)
}

// CasemapStrictRFC1459 is CasemapRFC1459 without the ~ -> ^ pair
func CasemapStrictRFC1459(name string) string {
	return foldRFC1459(name, false)
}

func foldRFC1459(name string, tilde bool) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		switch {
		case 'A' <= r && r <= 'Z':
			r += 'a' - 'A'
		case r == '[':
			r = '{'
		case r == ']':
			r = '}'
		case r == '\\':
			r = '|'
		case r == '~' && tilde:
			r = '^'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// CasemapPRECIS folds using the RFC 7613 UsernameCaseMapped profile, as
// advertised by servers with CASEMAPPING=rfc7613. Names the profile rejects
// fall back to ASCII folding so they still compare consistently.
func CasemapPRECIS(name string) string {
	folded, err := precis.UsernameCaseMapped.CompareKey(name)
	if err != nil {
		return CasemapASCII(name)
	}
	return folded
}

// ParseCasemapping maps an ISUPPORT CASEMAPPING token to its fold function.
// Unknown tokens use rfc1459, the protocol default.
func ParseCasemapping(token string) Casemapping {
	switch strings.ToLower(token) {
	case "ascii":
		return CasemapASCII
	case "strict-rfc1459":
		return CasemapStrictRFC1459
	case "rfc7613", "precis":
		return CasemapPRECIS
	default:
		return CasemapRFC1459
	}
}
