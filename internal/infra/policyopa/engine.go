package policyopa

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/DebasishTripathy13/CA/internal/domain"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

const admissionQuery = "data.certassist.admission.result"

//go:embed policy/*.rego
var defaultPolicy embed.FS

type Engine struct {
	query      rego.PreparedEvalQuery
	policyHash string
}

// NewEngine compiles the admission policy found under dir, or the built-in
// policy when dir is empty.
func NewEngine(ctx context.Context, dir string) (*Engine, error) {
	var fsys fs.FS = defaultPolicy
	root := "policy"
	if dir != "" {
		fsys = os.DirFS(dir)
		root = "."
	}
	modules, err := collectModules(fsys, root)
	if err != nil {
		return nil, err
	}
	if len(modules) == 0 {
		return nil, fmt.Errorf("no .rego files under %q", dir)
	}

	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	opts := []func(*rego.Rego){
		rego.Query(admissionQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
	}
	for _, m := range modules {
		opts = append(opts, rego.Module(m.path, string(m.source)))
	}
	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile admission policy: %w", err)
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}
	return &Engine{query: prepared, policyHash: hashModules(modules)}, nil
}

// PolicyHash identifies the exact policy source in use.
func (e *Engine) PolicyHash() string {
	return e.policyHash
}

func (e *Engine) Evaluate(ctx context.Context, input domain.AdmissionInput) (domain.AdmissionResult, error) {
	if e == nil {
		return domain.AdmissionResult{}, errors.New("policy engine is nil")
	}
	if input.SANEntries == nil {
		input.SANEntries = []string{}
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.AdmissionResult{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.AdmissionResult{}, errors.New("empty policy result")
	}
	result, err := decodeResult(results[0].Expressions[0].Value)
	if err != nil {
		return domain.AdmissionResult{}, err
	}
	sortViolations(result.Deny)
	sortViolations(result.Warnings)
	return result, nil
}

func decodeResult(value any) (domain.AdmissionResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return domain.AdmissionResult{}, err
	}
	var result domain.AdmissionResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return domain.AdmissionResult{}, err
	}
	return result, nil
}

func sortViolations(v []domain.PolicyViolation) {
	sort.Slice(v, func(i, j int) bool {
		if v[i].Code == v[j].Code {
			return v[i].Message < v[j].Message
		}
		return v[i].Code < v[j].Code
	})
}

type module struct {
	path   string
	source []byte
}

func collectModules(fsys fs.FS, root string) ([]module, error) {
	var modules []module
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || path.Ext(p) != ".rego" || strings.HasSuffix(p, "_test.rego") {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		modules = append(modules, module{path: p, source: data})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].path < modules[j].path })
	return modules, nil
}

func hashModules(modules []module) string {
	h := sha256.New()
	for _, m := range modules {
		sum := sha256.Sum256(m.source)
		fmt.Fprintf(h, "%s:%s\n", m.path, hex.EncodeToString(sum[:]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("policy compiler is nil")
	}
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; ok {
				return false
			}
			forbidden[name] = struct{}{}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}
