// Package template renders notification text from an event context.
//
// Placeholders use chesster's {dotted.path} form ("{white.name}",
// "{result.gamelink}"). A referenced path missing from the context is an
// error, never an empty substitution: a half-rendered notification is worse
// than no notification.
package template

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMissingKey is wrapped in every error returned for a placeholder whose
// path is absent from the context.
var ErrMissingKey = errors.New("missing context key")

// Context is the read-only data bag supplied at publish time.
//
// Nested values are plain map[string]any; Lookup walks dotted paths into
// them. Publish never mutates the canonical context; anything per-subscriber
// goes onto a Clone.
type Context map[string]any

// Clone returns a shallow-plus-one-level copy safe for per-subscriber
// additions. Nested maps are copied one level deep, which covers every
// field the renderers touch.
func (c Context) Clone() Context {
	cp := make(Context, len(c)+2)
	for k, v := range c {
		if m, ok := v.(map[string]any); ok {
			mm := make(map[string]any, len(m))
			for mk, mv := range m {
				mm[mk] = mv
			}
			cp[k] = mm
			continue
		}
		cp[k] = v
	}
	return cp
}

// Lookup resolves a dotted path ("result.gamelink") into the context.
func (c Context) Lookup(path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = map[string]any(c)
	for _, p := range parts {
		m, ok := toMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func toMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Context:
		return m, true
	default:
		return nil, false
	}
}

// Require verifies that every listed path resolves in the context. It backs
// the eager publish-time schema check, so a malformed event is rejected
// before fan-out instead of failing once per subscriber.
func (c Context) Require(paths ...string) error {
	for _, p := range paths {
		if _, ok := c.Lookup(p); !ok {
			return fmt.Errorf("%w: %s", ErrMissingKey, p)
		}
	}
	return nil
}

// Expand substitutes every {path} placeholder in text from the context.
func Expand(text string, ctx Context) (string, error) {
	var b strings.Builder
	for {
		open := strings.IndexByte(text, '{')
		if open < 0 {
			b.WriteString(text)
			return b.String(), nil
		}
		end := strings.IndexByte(text[open:], '}')
		if end < 0 {
			b.WriteString(text)
			return b.String(), nil
		}
		end += open

		b.WriteString(text[:open])
		path := text[open+1 : end]
		v, ok := ctx.Lookup(path)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingKey, path)
		}
		b.WriteString(stringify(v))
		text = text[end+1:]
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return x.UTC().Format(realDateFormat)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

const (
	// realDateFormat is the canonical UTC rendering of a scheduled date.
	realDateFormat = "2006-01-02 @ 15:04 UTC"
	// yourDateFormat is the short subscriber-local rendering.
	yourDateFormat = "Mon @ 15:04"
)

// LocalizeDate derives the per-subscriber date fields.
//
// When dateKey resolves to a time, the returned context is a clone carrying
// "realDate" (canonical UTC) and "yourDate" (shifted by the subscriber's
// UTC offset). The canonical context is never touched. A dateKey that
// resolves to a non-time value is an error; an absent dateKey returns the
// original context unchanged so date-less topics pass through.
func LocalizeDate(ctx Context, dateKey string, offsetMinutes int) (Context, error) {
	v, ok := ctx.Lookup(dateKey)
	if !ok {
		return ctx, nil
	}
	d, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("context field %s is %T, not a time", dateKey, v)
	}

	local := d.UTC().In(time.FixedZone("subscriber", offsetMinutes*60))
	cp := ctx.Clone()
	cp["realDate"] = d.UTC().Format(realDateFormat)
	cp["yourDate"] = local.Format(yourDateFormat)
	return cp, nil
}
