// Filename: patterns/library.go
// The textual pattern library. Patterns are compiled once at package init and
// are read-only afterwards.
package patterns

import (
	"regexp"

	"github.com/duns-scotus/mlpy-sub002/internal/analysis/core"
)

// Pattern is a single textual signature.
type Pattern struct {
	// ID is the stable identifier reported in SARIF output (e.g. MLS-001).
	ID          string
	Name        string
	Category    core.ThreatCategory
	Level       core.ThreatLevel
	Confidence  float64
	Description string

	// Expr is the regular expression matched against the source text.
	Expr string
	// Negative, when set, discards matches whose line also matches it.
	Negative string

	re  *regexp.Regexp
	neg *regexp.Regexp
}

// Regexp returns the compiled expression.
func (p *Pattern) Regexp() *regexp.Regexp { return p.re }

func (p *Pattern) rejects(line string) bool {
	return p.neg != nil && p.neg.MatchString(line)
}

var library = compileLibrary([]*Pattern{
	{
		ID: "MLS-001", Name: "eval_call",
		Category: core.CategoryCodeInjection, Level: core.LevelCritical, Confidence: 0.9,
		Description: "Dynamic evaluation of code with eval()",
		Expr:        `\beval\s*\(`,
	},
	{
		ID: "MLS-002", Name: "exec_call",
		Category: core.CategoryCodeInjection, Level: core.LevelCritical, Confidence: 0.9,
		Description: "Dynamic execution of code with exec()",
		Expr:        `\bexec\s*\(`,
	},
	{
		ID: "MLS-003", Name: "compile_call",
		Category: core.CategoryCodeInjection, Level: core.LevelHigh, Confidence: 0.7,
		Description: "Runtime compilation of code with compile()",
		Expr:        `(?:^|[^.\w])compile\s*\(`,
	},
	{
		ID: "MLS-004", Name: "function_constructor",
		Category: core.CategoryCodeInjection, Level: core.LevelCritical, Confidence: 0.85,
		Description: "Function constructor builds code from a string",
		Expr:        `\bnew\s+Function\s*\(`,
	},
	{
		ID: "MLS-005", Name: "dunder_import",
		Category: core.CategoryImportAbuse, Level: core.LevelCritical, Confidence: 0.95,
		Description: "Dynamic import through __import__()",
		Expr:        `\b__import__\s*\(`,
	},
	{
		ID: "MLS-006", Name: "importlib_call",
		Category: core.CategoryImportAbuse, Level: core.LevelCritical, Confidence: 0.9,
		Description: "Dynamic import through importlib",
		Expr:        `\bimportlib\s*\.\s*(?:import_module|__import__|reload)\s*\(`,
	},
	{
		ID: "MLS-007", Name: "os_command",
		Category: core.CategoryDangerousOperation, Level: core.LevelCritical, Confidence: 0.9,
		Description: "Shell or process execution through the os module",
		Expr:        `\bos\s*\.\s*(?:system|popen|exec[lv]p?e?|spawn[lv]p?e?)\s*\(`,
	},
	{
		ID: "MLS-008", Name: "subprocess_call",
		Category: core.CategoryDangerousOperation, Level: core.LevelCritical, Confidence: 0.9,
		Description: "Process execution through subprocess",
		Expr:        `\bsubprocess\s*\.\s*(?:call|run|Popen|check_output|check_call)\s*\(`,
	},
	{
		ID: "MLS-009", Name: "unsafe_deserialization",
		Category: core.CategoryUnsafeDeserialization, Level: core.LevelHigh, Confidence: 0.85,
		Description: "Deserialization of untrusted bytes with pickle or marshal",
		Expr:        `\b(?:pickle|cPickle|marshal)\s*\.\s*loads?\s*\(`,
	},
	{
		ID: "MLS-010", Name: "yaml_load",
		Category: core.CategoryUnsafeDeserialization, Level: core.LevelHigh, Confidence: 0.6,
		Description: "yaml.load without a safe loader",
		Expr:        `\byaml\s*\.\s*load\s*\(`,
		Negative:    `SafeLoader|safe_load`,
	},
	{
		ID: "MLS-011", Name: "namespace_reflection",
		Category: core.CategoryReflectionAbuse, Level: core.LevelHigh, Confidence: 0.8,
		Description: "Access to interpreter namespaces with globals(), locals() or vars()",
		Expr:        `(?:^|[^.\w])(?:globals|locals|vars)\s*\(\s*\)`,
	},
	{
		ID: "MLS-012", Name: "dunder_attribute",
		Category: core.CategoryReflectionAbuse, Level: core.LevelCritical, Confidence: 0.85,
		Description: "Access to a double-underscore attribute",
		Expr:        `\.\s*__[A-Za-z][A-Za-z0-9_]*__\b`,
	},
	{
		ID: "MLS-013", Name: "dunder_string",
		Category: core.CategoryReflectionAbuse, Level: core.LevelHigh, Confidence: 0.8,
		Description: "String literal naming an interpreter-internal attribute",
		Expr:        `["'` + "`" + `]__(?:class|bases|base|subclasses|mro|globals|dict|builtins|code|closure|getattribute|import|reduce|loader)__["'` + "`" + `]`,
	},
	{
		ID: "MLS-014", Name: "sql_concatenation",
		Category: core.CategorySQLInjection, Level: core.LevelMedium, Confidence: 0.6,
		Description: "SQL statement built by string concatenation",
		Expr:        `(?i)["'][^"'\n]*\b(?:SELECT\s+[^"'\n]+\s+FROM|INSERT\s+INTO|UPDATE\s+\w+\s+SET|DELETE\s+FROM)\b[^"'\n]*["']\s*\+`,
	},
	{
		ID: "MLS-015", Name: "shell_file_removal",
		Category: core.CategoryFileSystemAccess, Level: core.LevelHigh, Confidence: 0.75,
		Description: "Recursive or direct file removal",
		Expr:        `\b(?:shutil\s*\.\s*rmtree|os\s*\.\s*(?:remove|unlink|rmdir))\s*\(`,
	},
})

func compileLibrary(ps []*Pattern) []*Pattern {
	for _, p := range ps {
		p.re = regexp.MustCompile(p.Expr)
		if p.Negative != "" {
			p.neg = regexp.MustCompile(p.Negative)
		}
	}
	return ps
}
