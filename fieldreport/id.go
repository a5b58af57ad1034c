package fieldreport

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// MaxPrefixLen is the longest prefix a technician can be assigned.
const MaxPrefixLen = 2

// FormatID renders a report identifier: "<PREFIX>-<4-digit number>".
// Numbers above 9999 are rendered unpadded.
func FormatID(prefix string, n int) string {
	return fmt.Sprintf("%s-%04d", prefix, n)
}

// ParseID splits an identifier into prefix and number.
func ParseID(id string) (string, int, error) {
	i := strings.LastIndexByte(id, '-')
	if i <= 0 || i == len(id)-1 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return id[:i], n, nil
}

// ValidatePrefix checks that prefix is 1-2 letters or digits.
func ValidatePrefix(prefix string) error {
	if prefix == "" || len([]rune(prefix)) > MaxPrefixLen {
		return fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	for _, r := range prefix {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
		}
	}
	return nil
}
