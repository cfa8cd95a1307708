package person

import (
	"fmt"
	"strings"
)

// Entity is a row of the person table. NULL columns are read as empty strings.
type Entity struct {
	ID            int64  `json:"person_id"`
	FirstName     string `json:"first_name"`
	MiddleName    string `json:"middle_name"`
	LastName      string `json:"last_name"`
	Suffix        string `json:"suffix"`
	PreferredName string `json:"preferred_name"`
	FullName      string `json:"full_name"`
	BirthDate     string `json:"birth_date"`
}

// Attribute names one embeddable text column of a person.
type Attribute string

const (
	FullName      Attribute = "FullName"
	FirstName     Attribute = "FirstName"
	MiddleName    Attribute = "MiddleName"
	LastName      Attribute = "LastName"
	Suffix        Attribute = "Suffix"
	PreferredName Attribute = "PreferredName"
	BirthDate     Attribute = "BirthDate"
)

// Attributes lists every known attribute in indexing order.
var Attributes = []Attribute{
	FullName,
	FirstName,
	MiddleName,
	LastName,
	Suffix,
	PreferredName,
	BirthDate,
}

// legacyColumnSuffix is appended to attribute names by the column-per-attribute
// PersonVectors layout (e.g. FullNameVector).
const legacyColumnSuffix = "Vector"

// UnknownAttributeError reports an attribute name outside the allow-list.
type UnknownAttributeError struct {
	Name string
}

func (e *UnknownAttributeError) Error() string {
	return fmt.Sprintf("unknown attribute %q", e.Name)
}

// Column returns the legacy vector column label, e.g. FullNameVector.
func (a Attribute) Column() string {
	return string(a) + legacyColumnSuffix
}

// Text returns the entity's value for the attribute.
func (a Attribute) Text(e Entity) string {
	switch a {
	case FullName:
		return e.FullName
	case FirstName:
		return e.FirstName
	case MiddleName:
		return e.MiddleName
	case LastName:
		return e.LastName
	case Suffix:
		return e.Suffix
	case PreferredName:
		return e.PreferredName
	case BirthDate:
		return e.BirthDate
	default:
		return ""
	}
}

// ParseAttribute maps a name such as "LastName" or "lastnamevector" onto one of
// the compiled-in constants. The input string itself is never returned.
func ParseAttribute(name string) (Attribute, error) {
	trimmed := strings.TrimSpace(name)
	for _, a := range Attributes {
		if strings.EqualFold(trimmed, string(a)) || strings.EqualFold(trimmed, a.Column()) {
			return a, nil
		}
	}
	return "", &UnknownAttributeError{Name: name}
}
