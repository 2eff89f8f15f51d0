package record

import "strings"

// Type is the classified category of a training fact. Categories let the
// generator prompt group facts and let operators filter the facts listing.
type Type string

const (
	// TypeName marks facts about the user's name.
	TypeName Type = "name"
	// TypeAge marks facts about the user's age.
	TypeAge Type = "age"
	// TypeAddress marks facts about where the user lives.
	TypeAddress Type = "address"
	// TypeGeneral is the default for facts that match no keyword group.
	TypeGeneral Type = "general"
)

// typeKeywords maps each non-default type to the substrings that select it.
// Vietnamese keywords come first since that is the bot's primary audience.
var typeKeywords = []struct {
	typ      Type
	keywords []string
}{
	{TypeName, []string{"tên", "ten la", "my name", "name is", "gọi là"}},
	{TypeAge, []string{"tuổi", "tuoi", "years old", "age is", "sinh năm"}},
	{TypeAddress, []string{"địa chỉ", "dia chi", "sống ở", "song o", "live in", "address", "quê ở"}},
}

// Classify returns the fact type for the given info text based on keyword
// matching. Matching is case-insensitive; the first matching group wins.
func Classify(info string) Type {
	lower := strings.ToLower(info)
	for _, group := range typeKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.typ
			}
		}
	}
	return TypeGeneral
}
