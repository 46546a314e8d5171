// File: internal/analysis/core/definitions.go
// Rule tables shared by the collector, the pattern detector and the data-flow pass.
// All tables are built at init and never mutated.
package core

import (
	"path"
	"strings"
)

// -- Taint Sources --

// taintSourceCalls maps call names to the taint level of their result.
var taintSourceCalls = map[string]TaintLevel{
	// Interactive input
	"input":      TaintUserInput,
	"raw_input":  TaintUserInput,
	"read_input": TaintUserInput,
	"prompt":     TaintUserInput,
	"readline":   TaintUserInput,
	"get_input":  TaintUserInput,
	// Files
	"read_file":      TaintUserInput,
	"file.read":      TaintUserInput,
	"open":           TaintUserInput,
	"readlines":      TaintUserInput,
	"sys.stdin.read": TaintUserInput,
	// Network
	"fetch":          TaintUserInput,
	"http_get":       TaintUserInput,
	"http_post":      TaintUserInput,
	"http.get":       TaintUserInput,
	"http.post":      TaintUserInput,
	"requests.get":   TaintUserInput,
	"requests.post":  TaintUserInput,
	"urlopen":        TaintUserInput,
	"urllib.urlopen": TaintUserInput,
	"recv":           TaintUserInput,
	"socket.recv":    TaintUserInput,
	// Databases
	"db_query":  TaintUserInput,
	"fetchone":  TaintUserInput,
	"fetchall":  TaintUserInput,
	"fetch_row": TaintUserInput,
	// Process environment
	"getenv":    TaintExternal,
	"os.getenv": TaintExternal,
	"env.get":   TaintExternal,
}

// externalProperties are member names whose reads yield process environment data.
var externalProperties = map[string]bool{
	"environ": true,
	"argv":    true,
	"stdin":   true,
	"env":     true,
}

// TaintSourceLevel returns the taint introduced by calling name. The full dotted
// name is checked first, then its last segment (e.g. "f.read" matches "read_file"
// only by full name, while "conn.recv" matches "recv").
func TaintSourceLevel(name string) (TaintLevel, bool) {
	if lvl, ok := taintSourceCalls[name]; ok {
		return lvl, true
	}
	last := lastSegment(name)
	if last != name {
		if lvl, ok := taintSourceCalls[last]; ok {
			return lvl, true
		}
	}
	return TaintClean, false
}

// IsExternalProperty reports whether reading this member yields external data.
func IsExternalProperty(name string) bool {
	return externalProperties[name]
}

// -- Sinks --

// SinkRule describes a call that is dangerous by itself and/or when untrusted
// data reaches one of its argument positions.
type SinkRule struct {
	Name       string
	Category   ThreatCategory
	Level      ThreatLevel
	Confidence float64
	// SinkArgs lists the argument positions where untrusted data is a violation.
	// An empty list means every argument.
	SinkArgs []int
	// MatchMethod allows matching by last segment (obj.method) as well as by full name.
	MatchMethod bool
	Description string
}

// IsSinkArg reports whether argument i is a sink position.
func (r SinkRule) IsSinkArg(i int) bool {
	if len(r.SinkArgs) == 0 {
		return true
	}
	for _, a := range r.SinkArgs {
		if a == i {
			return true
		}
	}
	return false
}

var dangerousCalls = indexRules([]SinkRule{
	// Dynamic evaluation
	{Name: "eval", Category: CategoryCodeInjection, Level: LevelCritical, Confidence: 0.95, SinkArgs: []int{0}, Description: "dynamic code evaluation"},
	{Name: "exec", Category: CategoryCodeInjection, Level: LevelCritical, Confidence: 0.95, SinkArgs: []int{0}, Description: "dynamic code execution"},
	{Name: "execfile", Category: CategoryCodeInjection, Level: LevelCritical, Confidence: 0.9, SinkArgs: []int{0}, Description: "execution of a source file"},
	{Name: "compile", Category: CategoryCodeInjection, Level: LevelHigh, Confidence: 0.85, SinkArgs: []int{0}, Description: "runtime compilation of code"},
	{Name: "Function", Category: CategoryCodeInjection, Level: LevelCritical, Confidence: 0.9, Description: "function constructor from source text"},

	// Dynamic import
	{Name: "__import__", Category: CategoryImportAbuse, Level: LevelCritical, Confidence: 0.95, SinkArgs: []int{0}, Description: "dynamic module import"},
	{Name: "importlib.import_module", Category: CategoryImportAbuse, Level: LevelCritical, Confidence: 0.95, SinkArgs: []int{0}, Description: "dynamic module import"},
	{Name: "import_module", Category: CategoryImportAbuse, Level: LevelCritical, Confidence: 0.9, SinkArgs: []int{0}, MatchMethod: true, Description: "dynamic module import"},
	{Name: "importlib.reload", Category: CategoryImportAbuse, Level: LevelHigh, Confidence: 0.8, Description: "module reload"},

	// Reflection builtins
	{Name: "globals", Category: CategoryReflectionAbuse, Level: LevelHigh, Confidence: 0.85, Description: "access to the global namespace"},
	{Name: "locals", Category: CategoryReflectionAbuse, Level: LevelHigh, Confidence: 0.8, Description: "access to the local namespace"},
	{Name: "vars", Category: CategoryReflectionAbuse, Level: LevelHigh, Confidence: 0.8, Description: "access to an object namespace"},
	{Name: "dir", Category: CategoryReflectionAbuse, Level: LevelMedium, Confidence: 0.5, Description: "namespace enumeration"},

	// Process and shell execution
	{Name: "os.system", Category: CategoryDangerousOperation, Level: LevelCritical, Confidence: 0.95, SinkArgs: []int{0}, Description: "shell command execution"},
	{Name: "os.popen", Category: CategoryDangerousOperation, Level: LevelCritical, Confidence: 0.95, SinkArgs: []int{0}, Description: "shell command execution"},
	{Name: "os.execv", Category: CategoryDangerousOperation, Level: LevelCritical, Confidence: 0.9, Description: "process replacement"},
	{Name: "os.execl", Category: CategoryDangerousOperation, Level: LevelCritical, Confidence: 0.9, Description: "process replacement"},
	{Name: "os.spawnv", Category: CategoryDangerousOperation, Level: LevelCritical, Confidence: 0.9, Description: "process creation"},
	{Name: "os.fork", Category: CategoryDangerousOperation, Level: LevelHigh, Confidence: 0.85, Description: "process creation"},
	{Name: "os.kill", Category: CategoryDangerousOperation, Level: LevelHigh, Confidence: 0.8, Description: "signal delivery"},
	{Name: "subprocess.call", Category: CategoryDangerousOperation, Level: LevelCritical, Confidence: 0.95, SinkArgs: []int{0}, Description: "subprocess execution"},
	{Name: "subprocess.run", Category: CategoryDangerousOperation, Level: LevelCritical, Confidence: 0.95, SinkArgs: []int{0}, Description: "subprocess execution"},
	{Name: "subprocess.Popen", Category: CategoryDangerousOperation, Level: LevelCritical, Confidence: 0.95, SinkArgs: []int{0}, Description: "subprocess execution"},
	{Name: "subprocess.check_output", Category: CategoryDangerousOperation, Level: LevelCritical, Confidence: 0.95, SinkArgs: []int{0}, Description: "subprocess execution"},
	{Name: "subprocess.check_call", Category: CategoryDangerousOperation, Level: LevelCritical, Confidence: 0.95, SinkArgs: []int{0}, Description: "subprocess execution"},
	{Name: "commands.getoutput", Category: CategoryDangerousOperation, Level: LevelCritical, Confidence: 0.9, SinkArgs: []int{0}, Description: "shell command execution"},
	{Name: "pty.spawn", Category: CategoryDangerousOperation, Level: LevelCritical, Confidence: 0.9, Description: "pseudo-terminal spawn"},
	{Name: "ctypes.CDLL", Category: CategoryDangerousOperation, Level: LevelCritical, Confidence: 0.9, Description: "native library loading"},

	// Deserialization
	{Name: "pickle.loads", Category: CategoryUnsafeDeserialization, Level: LevelHigh, Confidence: 0.9, SinkArgs: []int{0}, Description: "pickle deserialization"},
	{Name: "pickle.load", Category: CategoryUnsafeDeserialization, Level: LevelHigh, Confidence: 0.9, SinkArgs: []int{0}, Description: "pickle deserialization"},
	{Name: "cPickle.loads", Category: CategoryUnsafeDeserialization, Level: LevelHigh, Confidence: 0.9, SinkArgs: []int{0}, Description: "pickle deserialization"},
	{Name: "marshal.loads", Category: CategoryUnsafeDeserialization, Level: LevelHigh, Confidence: 0.9, SinkArgs: []int{0}, Description: "marshal deserialization"},
	{Name: "yaml.load", Category: CategoryUnsafeDeserialization, Level: LevelHigh, Confidence: 0.75, SinkArgs: []int{0}, Description: "unsafe YAML load"},
	{Name: "shelve.open", Category: CategoryUnsafeDeserialization, Level: LevelMedium, Confidence: 0.7, SinkArgs: []int{0}, Description: "shelve database load"},

	// File system mutation
	{Name: "os.remove", Category: CategoryFileSystemAccess, Level: LevelHigh, Confidence: 0.8, SinkArgs: []int{0}, Description: "file deletion"},
	{Name: "os.unlink", Category: CategoryFileSystemAccess, Level: LevelHigh, Confidence: 0.8, SinkArgs: []int{0}, Description: "file deletion"},
	{Name: "os.rmdir", Category: CategoryFileSystemAccess, Level: LevelHigh, Confidence: 0.8, SinkArgs: []int{0}, Description: "directory deletion"},
	{Name: "os.chmod", Category: CategoryFileSystemAccess, Level: LevelHigh, Confidence: 0.8, Description: "permission change"},
	{Name: "shutil.rmtree", Category: CategoryFileSystemAccess, Level: LevelHigh, Confidence: 0.85, SinkArgs: []int{0}, Description: "recursive deletion"},
	{Name: "shutil.move", Category: CategoryFileSystemAccess, Level: LevelMedium, Confidence: 0.7, Description: "file move"},
})

func indexRules(rules []SinkRule) map[string]SinkRule {
	m := make(map[string]SinkRule, len(rules))
	for _, r := range rules {
		m[r.Name] = r
	}
	return m
}

// LookupDangerousCall checks a callee name against the sink table: the full path
// first, then the last segment for rules that allow method-style matching.
func LookupDangerousCall(name string) (SinkRule, bool) {
	if r, ok := dangerousCalls[name]; ok {
		return r, true
	}
	if last := lastSegment(name); last != name {
		if r, ok := dangerousCalls[last]; ok && r.MatchMethod {
			return r, true
		}
	}
	return SinkRule{}, false
}

// sqlSinkMethods receive query text. Untrusted concatenation into them is SQL injection.
var sqlSinkMethods = map[string]bool{
	"execute":       true,
	"executemany":   true,
	"query":         true,
	"raw":           true,
	"executescript": true,
}

// IsSQLSink reports whether a call name (or its last segment) takes query text.
func IsSQLSink(name string) bool {
	return sqlSinkMethods[lastSegment(name)]
}

// -- Reflection --

// ReflectionBuiltins take an attribute name as their second argument.
var ReflectionBuiltins = map[string]bool{
	"getattr": true,
	"setattr": true,
	"hasattr": true,
	"delattr": true,
}

// reflectionAttributes expose interpreter internals and enable sandbox escapes.
var reflectionAttributes = map[string]bool{
	"__class__":         true,
	"__bases__":         true,
	"__base__":          true,
	"__subclasses__":    true,
	"__mro__":           true,
	"__globals__":       true,
	"__dict__":          true,
	"__builtins__":      true,
	"__code__":          true,
	"__closure__":       true,
	"__getattribute__":  true,
	"__reduce__":        true,
	"__reduce_ex__":     true,
	"__import__":        true,
	"__loader__":        true,
	"__spec__":          true,
	"__func__":          true,
	"__self__":          true,
	"__init_subclass__": true,
	"func_globals":      true,
	"gi_frame":          true,
	"f_globals":         true,
	"f_locals":          true,
	"f_back":            true,
}

// IsReflectionAttribute reports whether name is a known escape primitive.
func IsReflectionAttribute(name string) bool {
	return reflectionAttributes[name]
}

// IsDunder reports whether name has the __name__ shape.
func IsDunder(name string) bool {
	return len(name) > 4 && strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")
}

// IsPrivateName reports whether name is hidden from ML code (leading underscore).
func IsPrivateName(name string) bool {
	return strings.HasPrefix(name, "_")
}

// -- Imports --

// dangerousModules maps module roots to the level of importing them.
var dangerousModules = map[string]ThreatLevel{
	"os":              LevelCritical,
	"subprocess":      LevelCritical,
	"ctypes":          LevelCritical,
	"importlib":       LevelCritical,
	"builtins":        LevelCritical,
	"__builtin__":     LevelCritical,
	"sys":             LevelHigh,
	"socket":          LevelHigh,
	"pickle":          LevelHigh,
	"cPickle":         LevelHigh,
	"marshal":         LevelHigh,
	"shelve":          LevelHigh,
	"shutil":          LevelHigh,
	"multiprocessing": LevelHigh,
	"threading":       LevelHigh,
	"code":            LevelHigh,
	"codeop":          LevelHigh,
	"inspect":         LevelHigh,
	"pty":             LevelHigh,
	"commands":        LevelHigh,
	"gc":              LevelHigh,
	"types":           LevelHigh,
	"posix":           LevelHigh,
	"platform":        LevelHigh,
}

// DangerousModuleLevel returns the level for importing module (matched by its root).
func DangerousModuleLevel(module string) (ThreatLevel, bool) {
	root := module
	if i := strings.IndexByte(module, '.'); i >= 0 {
		root = module[:i]
	}
	lvl, ok := dangerousModules[root]
	return lvl, ok
}

// -- File classification --

var executableExtensions = map[string]bool{
	".sh": true, ".bash": true, ".zsh": true, ".exe": true, ".bat": true, ".cmd": true,
	".ps1": true, ".py": true, ".pl": true, ".rb": true, ".so": true, ".dll": true,
	".dylib": true, ".bin": true, ".elf": true, ".com": true, ".msi": true, ".jar": true,
}

// IsExecutableName reports whether a file name looks executable.
func IsExecutableName(name string) bool {
	return executableExtensions[strings.ToLower(path.Ext(name))]
}

func lastSegment(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}
