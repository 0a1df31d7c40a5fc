package lang

import (
	"fmt"
	"reflect"

	"github.com/expgrid/expgrid/internal/attrdict"
	"github.com/expgrid/expgrid/internal/definition"
)

// Generic attribute mutators. Derived types use these to override inherited
// declarations without rewriting them. All of them address existing keys
// through glob patterns, and a pattern matching zero keys is always a hard
// failure.

// PurgeAttr clears one of the plain set attributes (maintainers or tags).
func PurgeAttr(attr string) Directive {
	return Directive{
		Name: "purge_attr",
		Apply: func(d *definition.Definition) error {
			switch attr {
			case "maintainers":
				d.Maintainers = nil
			case "tags":
				d.Tags = nil
			default:
				return &MutationError{
					Attr: attr,
					Err:  fmt.Errorf("attribute %q is not a plain set; use purge_attr_vals", attr),
				}
			}
			return nil
		},
	}
}

// PurgeAttrVals clears the named attribute container entirely.
func PurgeAttrVals(attr string) Directive {
	return Directive{
		Name: "purge_attr_vals",
		Apply: func(d *definition.Definition) error {
			c, err := d.Container(attr)
			if err != nil {
				return &MutationError{Attr: attr, Err: err}
			}
			c.Clear()
			return nil
		},
	}
}

// RemoveAttrVal removes every key glob-matching pat from the named
// container. With a within pattern, the container is treated as a mapping
// of sub-containers and removal happens inside every sub-container whose
// key matches within. At most one within pattern is accepted.
//
// For example RemoveAttrVal("workload_variables", "*time*", "*motor")
// removes all variables with "time" in their name from workloads ending in
// "motor".
func RemoveAttrVal(attr, pat string, within ...string) Directive {
	return Directive{
		Name: "remove_attr_val",
		Apply: func(d *definition.Definition) error {
			if len(within) > 1 {
				return &MutationError{Attr: attr, Err: fmt.Errorf("at most one within pattern is allowed")}
			}
			c, err := d.Container(attr)
			if err != nil {
				return &MutationError{Attr: attr, Err: err}
			}

			if len(within) == 0 {
				return removeMatching(c, attr, pat)
			}

			outerKeys, err := c.GlobKeys(within[0], attr)
			if err != nil {
				return &MutationError{Attr: attr, Err: err}
			}
			for _, outer := range outerKeys {
				v, _ := c.Get(outer)
				sub, ok := v.(*attrdict.Dict)
				if !ok {
					return &MutationError{
						Attr: fmt.Sprintf("%s[%s]", attr, outer),
						Err:  fmt.Errorf("entry is not a sub-container"),
					}
				}
				if err := removeMatching(sub, fmt.Sprintf("%s[%s]", attr, outer), pat); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// UpdateAttrVal replaces named fields of every entry glob-matching pat in
// the named container, optionally scoped to sub-containers matching a
// within pattern. A replacement is only accepted when its runtime shape
// matches the field it replaces. The maintainers and tags sets are excluded
// from this generic path.
func UpdateAttrVal(attr, pat string, repl map[string]any, within ...string) Directive {
	return Directive{
		Name: "update_attr_val",
		Apply: func(d *definition.Definition) error {
			if attr == "maintainers" || attr == "tags" {
				return &MutationError{
					Attr: attr,
					Err:  fmt.Errorf("attribute %q cannot be updated through the generic mutator", attr),
				}
			}
			if len(repl) == 0 {
				return &MutationError{Attr: attr, Err: fmt.Errorf("no replacement fields supplied")}
			}
			if len(within) > 1 {
				return &MutationError{Attr: attr, Err: fmt.Errorf("at most one within pattern is allowed")}
			}
			c, err := d.Container(attr)
			if err != nil {
				return &MutationError{Attr: attr, Err: err}
			}

			if len(within) == 0 {
				return updateEntries(c, attr, pat, repl)
			}

			outerKeys, err := c.GlobKeys(within[0], attr)
			if err != nil {
				return &MutationError{Attr: attr, Err: err}
			}
			for _, outer := range outerKeys {
				v, _ := c.Get(outer)
				sub, ok := v.(*attrdict.Dict)
				if !ok {
					return &MutationError{
						Attr: fmt.Sprintf("%s[%s]", attr, outer),
						Err:  fmt.Errorf("entry is not a sub-container"),
					}
				}
				if err := updateEntries(sub, fmt.Sprintf("%s[%s]", attr, outer), pat, repl); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// CopyAttrVal copies the entry at source within the named container to a
// new key in the same container.
func CopyAttrVal(attr, source, newKey string) Directive {
	return Directive{
		Name: "copy_attr_val",
		Apply: func(d *definition.Definition) error {
			c, err := d.Container(attr)
			if err != nil {
				return &MutationError{Attr: attr, Err: err}
			}
			v, ok := c.Get(source)
			if !ok {
				return &MutationError{
					Attr: fmt.Sprintf("%s[%s]", attr, source),
					Err:  fmt.Errorf("source key not found"),
				}
			}
			c.Set(newKey, attrdict.CopyValue(v))
			return nil
		},
	}
}

// CopyAttrValAcross copies the entry at fromKey[source] to newKey inside
// every sub-container whose key glob-matches toKeys.
func CopyAttrValAcross(attr, fromKey, source, newKey, toKeys string) Directive {
	return Directive{
		Name: "copy_attr_val",
		Apply: func(d *definition.Definition) error {
			c, err := d.Container(attr)
			if err != nil {
				return &MutationError{Attr: attr, Err: err}
			}
			fromVal, ok := c.Get(fromKey)
			if !ok {
				return &MutationError{
					Attr: fmt.Sprintf("%s[%s]", attr, fromKey),
					Err:  fmt.Errorf("source key not found"),
				}
			}
			fromSub, ok := fromVal.(*attrdict.Dict)
			if !ok {
				return &MutationError{
					Attr: fmt.Sprintf("%s[%s]", attr, fromKey),
					Err:  fmt.Errorf("entry is not a sub-container"),
				}
			}
			src, ok := fromSub.Get(source)
			if !ok {
				return &MutationError{
					Attr: fmt.Sprintf("%s[%s][%s]", attr, fromKey, source),
					Err:  fmt.Errorf("source key not found"),
				}
			}

			targetKeys, err := c.GlobKeys(toKeys, attr)
			if err != nil {
				return &MutationError{Attr: attr, Err: err}
			}
			for _, target := range targetKeys {
				v, _ := c.Get(target)
				sub, ok := v.(*attrdict.Dict)
				if !ok {
					return &MutationError{
						Attr: fmt.Sprintf("%s[%s]", attr, target),
						Err:  fmt.Errorf("entry is not a sub-container"),
					}
				}
				sub.Set(newKey, attrdict.CopyValue(src))
			}
			return nil
		},
	}
}

func removeMatching(c *attrdict.Dict, subject, pat string) error {
	keys, err := c.GlobKeys(pat, subject)
	if err != nil {
		return &MutationError{Attr: subject, Err: err}
	}
	for _, k := range keys {
		c.Delete(k)
	}
	return nil
}

func updateEntries(c *attrdict.Dict, subject, pat string, repl map[string]any) error {
	keys, err := c.GlobKeys(pat, subject)
	if err != nil {
		return &MutationError{Attr: subject, Err: err}
	}
	for _, key := range keys {
		v, _ := c.Get(key)
		entry, ok := v.(map[string]any)
		if !ok {
			return &MutationError{
				Attr: fmt.Sprintf("%s[%s]", subject, key),
				Err:  fmt.Errorf("entry has no named fields to update"),
			}
		}
		// Replacements must keep the shape of the field they replace.
		for field, existing := range entry {
			newVal, present := repl[field]
			if !present || existing == nil {
				continue
			}
			if reflect.TypeOf(newVal) != reflect.TypeOf(existing) {
				return &MutationError{
					Attr: fmt.Sprintf("%s[%s].%s", subject, key, field),
					Err: fmt.Errorf("replacement value type %T does not match existing value type %T",
						newVal, existing),
				}
			}
		}
		for field, newVal := range repl {
			entry[field] = attrdict.CopyValue(newVal)
		}
	}
	return nil
}
