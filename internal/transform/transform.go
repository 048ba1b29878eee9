// Package transform implements the closed, named set of pure value
// converters used by field mappings (§4.E). Every function is addressable
// by a string name; a chain is an ordered list of (name, args) and
// short-circuits to nil as soon as any step returns nil. Unknown names
// fail the mapping with *synerr.TransformUnknown, mirroring the teacher's
// validation package's pattern of a registry of named, pure checks
// (internal/validation) rather than scattering ad-hoc conversions inline.
package transform

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/syncmesh/syncmesh/internal/synerr"
)

// Func is one named transformation. args carries the step's declared
// arguments, already substituted for $context.* placeholders by the
// mapping engine.
type Func func(value interface{}, args map[string]string) (interface{}, error)

var registry = map[string]Func{
	"identity":           identityFn,
	"upper":              upperFn,
	"lower":              lowerFn,
	"trim":               trimFn,
	"toString":           toStringFn,
	"toInt":              toIntFn,
	"toDouble":           toDoubleFn,
	"toBool":             toBoolFn,
	"dateISO":            dateISOFn,
	"dateShort":          dateShortFn,
	"emailToUsername":    emailToUsernameFn,
	"replace":            replaceFn,
	"concat":             concatFn,
	"split":              splitFn,
	"truncate":           truncateFn,
	"htmlToText":         htmlToTextFn,
	"textToHTML":         textToHTMLFn,
	"markdownToText":     markdownToTextFn,
	"pathHead":           pathHeadFn,
	"pathReplaceHead":    pathReplaceHeadFn,
	"priorityMap":        priorityMapFn,
}

// Lookup returns the named transformation, or *synerr.TransformUnknown if
// name is not registered.
func Lookup(name string) (Func, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, &synerr.TransformUnknown{Name: name}
	}
	return fn, nil
}

// Names returns the closed set of registered transformation names, sorted
// for stable display in UIs/tests.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ApplyChain runs value through each step in order, substituting
// $context.key args via ctx, and short-circuits to nil if any step
// produces nil. Returns *synerr.TransformUnknown on the first unknown name.
func ApplyChain(value interface{}, steps []Step, ctx map[string]string) (interface{}, error) {
	cur := value
	for _, step := range steps {
		if cur == nil {
			return nil, nil
		}
		fn, err := Lookup(step.Name)
		if err != nil {
			return nil, err
		}
		resolved := resolveArgs(step.Args, ctx)
		cur, err = fn(cur, resolved)
		if err != nil {
			return nil, fmt.Errorf("transform %q: %w", step.Name, err)
		}
	}
	return cur, nil
}

// Step is the argument shape ApplyChain consumes; it mirrors
// types.TransformStep without importing the types package, keeping this
// library a leaf dependency usable from storage and mapping alike.
type Step struct {
	Name string
	Args map[string]string
}

// resolveArgs expands "$context.key" values in args against ctx, leaving
// literal values untouched.
func resolveArgs(args map[string]string, ctx map[string]string) map[string]string {
	if len(args) == 0 {
		return args
	}
	out := make(map[string]string, len(args))
	for k, v := range args {
		if strings.HasPrefix(v, "$context.") {
			key := strings.TrimPrefix(v, "$context.")
			out[k] = ctx[key]
			continue
		}
		out[k] = v
	}
	return out
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func identityFn(v interface{}, _ map[string]string) (interface{}, error) { return v, nil }

func upperFn(v interface{}, _ map[string]string) (interface{}, error) {
	return strings.ToUpper(toString(v)), nil
}

func lowerFn(v interface{}, _ map[string]string) (interface{}, error) {
	return strings.ToLower(toString(v)), nil
}

func trimFn(v interface{}, _ map[string]string) (interface{}, error) {
	return strings.TrimSpace(toString(v)), nil
}

func toStringFn(v interface{}, _ map[string]string) (interface{}, error) {
	return toString(v), nil
}

func toIntFn(v interface{}, _ map[string]string) (interface{}, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil, fmt.Errorf("toInt: %w", err)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("toInt: unsupported type %T", v)
	}
}

func toDoubleFn(v interface{}, _ map[string]string) (interface{}, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil, fmt.Errorf("toDouble: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("toDouble: unsupported type %T", v)
	}
}

func toBoolFn(v interface{}, _ map[string]string) (interface{}, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return nil, fmt.Errorf("toBool: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("toBool: unsupported type %T", v)
	}
}

// knownDateLayouts are tried in order when parsing a date string whose
// source layout is unknown; drivers generally hand us RFC3339, but some
// legacy systems (e.g. ServiceDesk Plus) emit epoch millis as strings.
var knownDateLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseDate(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range knownDateLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		return time.Time{}, fmt.Errorf("unrecognized date format %q", t)
	default:
		return time.Time{}, fmt.Errorf("unsupported date type %T", v)
	}
}

func dateISOFn(v interface{}, _ map[string]string) (interface{}, error) {
	t, err := parseDate(v)
	if err != nil {
		return nil, fmt.Errorf("dateISO: %w", err)
	}
	return t.UTC().Format(time.RFC3339), nil
}

func dateShortFn(v interface{}, _ map[string]string) (interface{}, error) {
	t, err := parseDate(v)
	if err != nil {
		return nil, fmt.Errorf("dateShort: %w", err)
	}
	return t.Format("2006-01-02"), nil
}

// emailToUsernameFn is lossy by design (§9 open question on reverse
// mapping): it strips the domain and any plus-addressing suffix.
func emailToUsernameFn(v interface{}, _ map[string]string) (interface{}, error) {
	s := toString(v)
	at := strings.IndexByte(s, '@')
	if at >= 0 {
		s = s[:at]
	}
	if plus := strings.IndexByte(s, '+'); plus >= 0 {
		s = s[:plus]
	}
	return s, nil
}

func replaceFn(v interface{}, args map[string]string) (interface{}, error) {
	return strings.ReplaceAll(toString(v), args["from"], args["to"]), nil
}

func concatFn(v interface{}, args map[string]string) (interface{}, error) {
	return args["prefix"] + toString(v) + args["suffix"], nil
}

func splitFn(v interface{}, args map[string]string) (interface{}, error) {
	sep := args["sep"]
	if sep == "" {
		sep = ","
	}
	idx, err := strconv.Atoi(args["index"])
	if err != nil {
		return nil, fmt.Errorf("split: invalid index %q", args["index"])
	}
	parts := strings.Split(toString(v), sep)
	if idx < 0 || idx >= len(parts) {
		return nil, nil
	}
	return parts[idx], nil
}

func truncateFn(v interface{}, args map[string]string) (interface{}, error) {
	n, err := strconv.Atoi(args["length"])
	if err != nil {
		return nil, fmt.Errorf("truncate: invalid length %q", args["length"])
	}
	s := toString(v)
	if len(s) <= n {
		return s, nil
	}
	return s[:n], nil
}

var htmlTagRE = regexp.MustCompile(`<[^>]*>`)

func htmlToTextFn(v interface{}, _ map[string]string) (interface{}, error) {
	s := htmlTagRE.ReplaceAllString(toString(v), "")
	return html.UnescapeString(s), nil
}

func textToHTMLFn(v interface{}, _ map[string]string) (interface{}, error) {
	escaped := html.EscapeString(toString(v))
	lines := strings.Split(escaped, "\n")
	return "<p>" + strings.Join(lines, "</p><p>") + "</p>", nil
}

var mdEmphasisRE = regexp.MustCompile(`[*_` + "`" + `]+`)
var mdLinkRE = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)

// markdownToTextFn strips the common inline markdown markers (emphasis,
// inline code, links) without attempting full CommonMark parsing.
func markdownToTextFn(v interface{}, _ map[string]string) (interface{}, error) {
	s := toString(v)
	s = mdLinkRE.ReplaceAllString(s, "$1")
	s = mdEmphasisRE.ReplaceAllString(s, "")
	return s, nil
}

// pathHeadFn extracts the first N segments of a slash-delimited path,
// used for project-scoped paths like areaPath/iterationPath.
func pathHeadFn(v interface{}, args map[string]string) (interface{}, error) {
	n, err := strconv.Atoi(args["segments"])
	if err != nil {
		return nil, fmt.Errorf("pathHead: invalid segments %q", args["segments"])
	}
	parts := strings.Split(toString(v), "\\")
	if len(parts) == 1 {
		parts = strings.Split(toString(v), "/")
	}
	if n > len(parts) {
		n = len(parts)
	}
	return strings.Join(parts[:n], "\\"), nil
}

// pathReplaceHeadFn rewrites the leading segment(s) of a project-scoped
// path from one project's prefix to another's — the canonical use case is
// a driver's TransformFieldValue rewriting areaPath/iterationPath when
// mirroring into a different project (§4.C).
func pathReplaceHeadFn(v interface{}, args map[string]string) (interface{}, error) {
	from, to := args["from"], args["to"]
	s := toString(v)
	if strings.HasPrefix(s, from) {
		return to + strings.TrimPrefix(s, from), nil
	}
	return s, nil
}

// priorityMapFn translates a priority value between known systems'
// vocabularies via a "map" arg shaped "a=1,b=2,c=3" (ordered pairs,
// source-value=target-value). Unrecognized input values pass through.
func priorityMapFn(v interface{}, args map[string]string) (interface{}, error) {
	table := args["map"]
	s := toString(v)
	for _, pair := range strings.Split(table, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(kv[0]), s) {
			return strings.TrimSpace(kv[1]), nil
		}
	}
	return s, nil
}
