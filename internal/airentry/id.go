package airentry

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

var ordinalFloors = map[string]int{
	"ground":  0,
	"first":   1,
	"second":  2,
	"third":   3,
	"fourth":  4,
	"fifth":   5,
	"sixth":   6,
	"seventh": 7,
	"eighth":  8,
	"ninth":   9,
	"tenth":   10,
}

// FloorPrefix returns the short floor code embedded in entry ids:
// "ground" is 0F, "first" 1F, "floor 3" 3F, "basement" B1.
func FloorPrefix(floor string) string {
	name := strings.ToLower(strings.TrimSpace(floor))
	if n, ok := ordinalFloors[name]; ok {
		return strconv.Itoa(n) + "F"
	}
	if name == "basement" {
		return "B1"
	}

	digits := trailingDigits(name)
	if digits != "" {
		n, err := strconv.Atoi(digits)
		if err == nil {
			return strconv.Itoa(n) + "F"
		}
	}

	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			continue
		}
		b.WriteRune(r)
		if b.Len() == 3 {
			break
		}
	}
	if b.Len() == 0 {
		return "XF"
	}
	return b.String()
}

func trailingDigits(s string) string {
	end := len(s)
	start := end
	for start > 0 && s[start-1] >= '0' && s[start-1] <= '9' {
		start--
	}
	return s[start:end]
}

func formatID(t Type, floor string, counter int, suffix string) string {
	return fmt.Sprintf("%s_%s_%d_%s", t, FloorPrefix(floor), counter, suffix)
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// IDParts is the decoded form of an entry id.
type IDParts struct {
	Type        Type
	FloorPrefix string
	Counter     int
	Suffix      string
}

// ParseID splits an id of the form {type}_{floorPrefix}_{counter}_{suffix}.
func ParseID(id string) (IDParts, bool) {
	parts := strings.Split(id, "_")
	if len(parts) != 4 {
		return IDParts{}, false
	}
	counter, err := strconv.Atoi(parts[2])
	if err != nil || counter < 1 {
		return IDParts{}, false
	}
	t := Type(parts[0])
	if !t.Valid() || parts[1] == "" || parts[3] == "" {
		return IDParts{}, false
	}
	return IDParts{Type: t, FloorPrefix: parts[1], Counter: counter, Suffix: parts[3]}, true
}
