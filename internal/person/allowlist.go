package person

import "errors"

var ErrEmptyAllowList = errors.New("attribute allow-list is empty")

// AllowList is the closed set of attributes a deployment indexes and searches.
type AllowList struct {
	ordered []Attribute
	set     map[Attribute]struct{}
}

// NewAllowList resolves configured names against the known attributes.
// Duplicates are dropped; order is preserved.
func NewAllowList(names []string) (AllowList, error) {
	list := AllowList{set: make(map[Attribute]struct{}, len(names))}
	for _, name := range names {
		a, err := ParseAttribute(name)
		if err != nil {
			return AllowList{}, err
		}
		if _, dup := list.set[a]; dup {
			continue
		}
		list.set[a] = struct{}{}
		list.ordered = append(list.ordered, a)
	}
	if len(list.ordered) == 0 {
		return AllowList{}, ErrEmptyAllowList
	}
	return list, nil
}

// DefaultAllowList permits every known attribute.
func DefaultAllowList() AllowList {
	list := AllowList{set: make(map[Attribute]struct{}, len(Attributes))}
	for _, a := range Attributes {
		list.set[a] = struct{}{}
		list.ordered = append(list.ordered, a)
	}
	return list
}

// Resolve returns the permitted attribute for name or an *UnknownAttributeError.
func (l AllowList) Resolve(name string) (Attribute, error) {
	a, err := ParseAttribute(name)
	if err != nil {
		return "", err
	}
	if !l.Contains(a) {
		return "", &UnknownAttributeError{Name: name}
	}
	return a, nil
}

func (l AllowList) Contains(a Attribute) bool {
	_, ok := l.set[a]
	return ok
}

// Attributes returns a copy of the permitted attributes in configured order.
func (l AllowList) Attributes() []Attribute {
	out := make([]Attribute, len(l.ordered))
	copy(out, l.ordered)
	return out
}

func (l AllowList) Len() int { return len(l.ordered) }
