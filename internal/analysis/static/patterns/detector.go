// Filename: patterns/detector.go
// Package patterns finds known-dangerous constructs, either as text signatures
// in the raw source or as shapes in the AST. It carries no taint information;
// each match becomes one threat with the pattern's default level and confidence.
package patterns

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/duns-scotus/mlpy-sub002/internal/analysis/core"
	"github.com/duns-scotus/mlpy-sub002/internal/mlast"
)

const maxEvidence = 120

// Match is a textual hit with its byte span.
type Match struct {
	Pattern *Pattern
	Start   int
	End     int
	Threat  core.SecurityThreat
}

// Detector runs the pattern library. It holds no mutable state after
// construction and is safe for concurrent use.
type Detector struct {
	*core.BaseAnalyzer
	patterns []*Pattern
}

// NewDetector creates a detector over the built-in library.
func NewDetector(logger *zap.Logger) *Detector {
	return &Detector{
		BaseAnalyzer: core.NewBaseAnalyzer("pattern_detector", "Matches textual and structural threat signatures", core.TypePattern, logger),
		patterns:     library,
	}
}

// Patterns returns the textual library.
func (d *Detector) Patterns() []*Pattern {
	return append([]*Pattern(nil), d.patterns...)
}

// Scan runs every textual pattern over source.
func (d *Detector) Scan(source, filename string) []core.SecurityThreat {
	matches := d.Matches(source, filename)
	out := make([]core.SecurityThreat, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Threat)
	}
	return out
}

// Matches is Scan with byte spans, ordered by offset.
func (d *Detector) Matches(source, filename string) []Match {
	if source == "" {
		return nil
	}
	lines := newLineIndex(source)
	var out []Match

	for _, p := range d.patterns {
		for _, loc := range p.re.FindAllStringIndex(source, -1) {
			start, end := loc[0], loc[1]
			// Patterns with a leading boundary group may consume one extra byte.
			for start < end && !isSignificant(source[start]) {
				start++
			}
			line, col := lines.position(start)
			if p.rejects(lines.text(line)) {
				continue
			}
			out = append(out, Match{
				Pattern: p,
				Start:   start,
				End:     end,
				Threat: core.SecurityThreat{
					Category:   p.Category,
					Level:      p.Level,
					Message:    p.Description,
					Confidence: p.Confidence,
					Rule:       p.Name,
					Source:     core.SourcePattern,
					Filename:   filename,
					Line:       line,
					Column:     col,
					Evidence:   evidence(source[start:end]),
				},
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	d.Logger.Debug("Textual scan complete", zap.String("file", filename), zap.Int("matches", len(out)))
	return out
}

// ScanNode checks a single node (not its children) against the structural rules.
func (d *Detector) ScanNode(n *mlast.Node, filename string) []core.SecurityThreat {
	return d.scanNode(n, filename, nil)
}

// ScanProgram applies the structural rules to every node. Import aliases are
// resolved so that `import os as o; o.system(x)` is seen as os.system.
func (d *Detector) ScanProgram(prog *mlast.Program) []core.SecurityThreat {
	if prog == nil || prog.Root == nil {
		return nil
	}
	aliases := ImportAliases(prog.Root)

	var out []core.SecurityThreat
	mlast.Inspect(prog.Root, func(n *mlast.Node) bool {
		out = append(out, d.scanNode(n, prog.Filename, aliases)...)
		return true
	})
	d.Logger.Debug("Structural scan complete", zap.String("file", prog.Filename), zap.Int("threats", len(out)))
	return out
}

// ImportAliases maps alias names to the modules they stand for.
func ImportAliases(root *mlast.Node) map[string]string {
	aliases := make(map[string]string)
	mlast.Inspect(root, func(n *mlast.Node) bool {
		if n.Kind == mlast.KindImport && n.Alias != "" {
			aliases[n.Alias] = n.Module
		}
		return true
	})
	return aliases
}

// ResolveName rewrites the first segment of a dotted name through the alias map.
func ResolveName(name string, aliases map[string]string) string {
	if len(aliases) == 0 {
		return name
	}
	head, rest, hasRest := strings.Cut(name, ".")
	module, ok := aliases[head]
	if !ok {
		return name
	}
	if !hasRest {
		return module
	}
	return module + "." + rest
}

func (d *Detector) scanNode(n *mlast.Node, filename string, aliases map[string]string) []core.SecurityThreat {
	if n == nil {
		return nil
	}

	switch n.Kind {
	case mlast.KindCall:
		return d.scanCall(n, filename, aliases)

	case mlast.KindMember:
		if t, ok := reflectionThreat(n.Name, "attribute_access"); ok {
			return []core.SecurityThreat{d.structural(t, n, filename)}
		}

	case mlast.KindIndex:
		if n.Index != nil && n.Index.Kind == mlast.KindString {
			if t, ok := reflectionThreat(n.Index.Text, "subscript_access"); ok {
				return []core.SecurityThreat{d.structural(t, n, filename)}
			}
		}

	case mlast.KindImport:
		if t, ok := importThreat(n.Module); ok {
			return []core.SecurityThreat{d.structural(t, n, filename)}
		}
	}
	return nil
}

func (d *Detector) scanCall(n *mlast.Node, filename string, aliases map[string]string) []core.SecurityThreat {
	name, ok := mlast.QualifiedName(n.Callee)
	if !ok {
		return nil
	}
	name = ResolveName(name, aliases)
	var out []core.SecurityThreat

	if rule, found := core.LookupDangerousCall(name); found {
		out = append(out, d.structural(core.SecurityThreat{
			Category:   rule.Category,
			Level:      rule.Level,
			Confidence: rule.Confidence,
			Rule:       "call:" + rule.Name,
			Message:    fmt.Sprintf("Call to %s (%s)", name, rule.Description),
		}, n, filename))
	}

	// getattr(obj, "__class__") and friends with a literal private name.
	if core.ReflectionBuiltins[name] && len(n.Args) >= 2 && n.Args[1].Kind == mlast.KindString {
		attr := n.Args[1].Text
		if core.IsPrivateName(attr) {
			level := core.LevelHigh
			if core.IsReflectionAttribute(attr) || core.IsDunder(attr) {
				level = core.LevelCritical
			}
			out = append(out, d.structural(core.SecurityThreat{
				Category:   core.CategoryReflectionAbuse,
				Level:      level,
				Confidence: 0.9,
				Rule:       "reflective_private_access",
				Message:    fmt.Sprintf("%s() with private attribute name %q", name, attr),
			}, n, filename))
		}
	}

	// require("os") / import("os")
	if (name == "require" || name == "import") && len(n.Args) > 0 && n.Args[0].Kind == mlast.KindString {
		if t, found := importThreat(n.Args[0].Text); found {
			out = append(out, d.structural(t, n, filename))
		}
	}
	return out
}

func (d *Detector) structural(t core.SecurityThreat, n *mlast.Node, filename string) core.SecurityThreat {
	t.Source = core.SourceStructural
	t.Filename = filename
	t.AttachNode(n)
	return t
}

func reflectionThreat(attr, rule string) (core.SecurityThreat, bool) {
	switch {
	case core.IsReflectionAttribute(attr):
		return core.SecurityThreat{
			Category:   core.CategoryReflectionAbuse,
			Level:      core.LevelCritical,
			Confidence: 0.9,
			Rule:       rule,
			Message:    fmt.Sprintf("Access to interpreter internal %s", attr),
			Evidence:   attr,
		}, true
	case core.IsDunder(attr):
		return core.SecurityThreat{
			Category:   core.CategoryReflectionAbuse,
			Level:      core.LevelHigh,
			Confidence: 0.8,
			Rule:       rule,
			Message:    fmt.Sprintf("Access to special attribute %s", attr),
			Evidence:   attr,
		}, true
	}
	return core.SecurityThreat{}, false
}

func importThreat(module string) (core.SecurityThreat, bool) {
	level, ok := core.DangerousModuleLevel(module)
	if !ok {
		return core.SecurityThreat{}, false
	}
	return core.SecurityThreat{
		Category:   core.CategoryImportAbuse,
		Level:      level,
		Confidence: 0.9,
		Rule:       "dangerous_import",
		Message:    fmt.Sprintf("Import of restricted module %s", module),
		Evidence:   module,
	}, true
}

func isSignificant(b byte) bool {
	return b == '_' || b == '.' || b == '"' || b == '\'' || b == '`' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func evidence(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxEvidence {
		return s[:maxEvidence] + "..."
	}
	return s
}

// lineIndex maps byte offsets to 1-based line/column positions.
type lineIndex struct {
	source string
	starts []int
}

func newLineIndex(source string) *lineIndex {
	starts := []int{0}
	for i := 0; i < len(source); i++ {
		if source[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &lineIndex{source: source, starts: starts}
}

func (l *lineIndex) position(offset int) (int, int) {
	i := sort.Search(len(l.starts), func(i int) bool { return l.starts[i] > offset }) - 1
	if i < 0 {
		i = 0
	}
	return i + 1, offset - l.starts[i] + 1
}

// text returns the content of a 1-based line.
func (l *lineIndex) text(line int) string {
	if line < 1 || line > len(l.starts) {
		return ""
	}
	start := l.starts[line-1]
	end := len(l.source)
	if line < len(l.starts) {
		end = l.starts[line] - 1
	}
	return l.source[start:end]
}
