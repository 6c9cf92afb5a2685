package engine

import (
	"fmt"
	"math"
	"strings"

	"github.com/chazu/cagebake/pkg/cage"
	"github.com/chazu/cagebake/pkg/kernel"
	"github.com/chazu/cagebake/pkg/plan"
	v3 "github.com/deadsy/sdfx/vec/v3"
	zygo "github.com/glycerine/zygomys/zygo"
	"github.com/samber/lo"
)

// ---------------------------------------------------------------------------
// Custom Sexp types for passing Go values through the zygomys environment
// ---------------------------------------------------------------------------

// sexpSource wraps a plan.Source so mesh sources can be passed between
// builtins and consumed by `defcage`.
type sexpSource struct {
	src plan.Source
}

func (s *sexpSource) SexpString(ps *zygo.PrintState) string { return s.src.String() }
func (s *sexpSource) Type() *zygo.RegisteredType          { return nil }

// sexpVec3 wraps a v3.Vec.
type sexpVec3 struct {
	vec v3.Vec
}

func (v *sexpVec3) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(vec3 %g %g %g)", v.vec.X, v.vec.Y, v.vec.Z)
}
func (v *sexpVec3) Type() *zygo.RegisteredType { return nil }

// sexpJob is returned by `defcage`.
type sexpJob struct {
	job *plan.Job
}

func (j *sexpJob) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(cage %q)", j.job.Name)
}
func (j *sexpJob) Type() *zygo.RegisteredType { return nil }

// ---------------------------------------------------------------------------
// Keyword argument parsing
// ---------------------------------------------------------------------------

// kwPrefix is the marker prepended to keyword names by preprocessSource.
const kwPrefix = "__kw_"

// isKW checks if a Sexp is a preprocessed keyword string.
// Returns the keyword name (without prefix) and true if it is.
func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], true
	}
	return "", false
}

// kwArgs holds the result of parsing a mixed positional+keyword argument list.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

// parseArgs separates args into keyword and positional arguments.
// Keywords are identified by the __kw_ prefix added during preprocessing.
func parseArgs(args []zygo.Sexp) kwArgs {
	result := kwArgs{kw: make(map[string]zygo.Sexp)}
	i := 0
	for i < len(args) {
		name, ok := isKW(args[i])
		if ok {
			if i+1 < len(args) {
				result.kw[name] = args[i+1]
				i += 2
			} else {
				// Keyword at end with no value: treat as flag with nil.
				result.kw[name] = zygo.SexpNull
				i++
			}
		} else {
			result.positional = append(result.positional, args[i])
			i++
		}
	}
	return result
}

// unknownKeywords returns an error naming any keyword not in allowed.
func (a kwArgs) unknownKeywords(fn string, allowed ...string) error {
	extra := lo.Without(lo.Keys(a.kw), allowed...)
	if len(extra) == 0 {
		return nil
	}
	return fmt.Errorf("%s: unknown keyword :%s", fn, strings.Join(lo.Uniq(extra), ", :"))
}

// ---------------------------------------------------------------------------
// Value extraction helpers
// ---------------------------------------------------------------------------

// toFloat64 extracts a float64 from a Sexp (SexpInt or SexpFloat).
func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}

// toInt extracts an integer from a SexpInt or an integral SexpFloat.
func toInt(s zygo.Sexp) (int, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return int(v.Val), nil
	case *zygo.SexpFloat:
		if v.Val == math.Trunc(v.Val) {
			return int(v.Val), nil
		}
	}
	return 0, fmt.Errorf("expected integer, got %T (%s)", s, s.SexpString(nil))
}

// toString extracts a string from a Sexp.
func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return str.S, nil
	}
	return "", fmt.Errorf("expected string, got %T (%s)", s, s.SexpString(nil))
}

// toKeywordString extracts a keyword name or plain string from a Sexp.
// Handles both preprocessed keywords (__kw_pairs) and plain strings ("pairs").
func toKeywordString(s zygo.Sexp) (string, error) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", fmt.Errorf("expected keyword or string, got %T (%s)", s, s.SexpString(nil))
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], nil
	}
	return str.S, nil
}

// toVec3 extracts a v3.Vec from a sexpVec3.
func toVec3(s zygo.Sexp) (v3.Vec, error) {
	if v, ok := s.(*sexpVec3); ok {
		return v.vec, nil
	}
	return v3.Vec{}, fmt.Errorf("expected vec3, got %T (%s)", s, s.SexpString(nil))
}

// toSource extracts a mesh source. A plain string is a path to an OBJ file.
func toSource(s zygo.Sexp) (plan.Source, error) {
	switch v := s.(type) {
	case *sexpSource:
		return v.src, nil
	case *zygo.SexpStr:
		if _, isKeyword := isKW(v); !isKeyword {
			return plan.FileSource(v.S), nil
		}
	}
	return plan.Source{}, fmt.Errorf("expected mesh source or path, got %T (%s)", s, s.SexpString(nil))
}

// toSolid extracts a procedural solid source.
func toSolid(s zygo.Sexp) (plan.Source, error) {
	src, err := toSource(s)
	if err != nil {
		return plan.Source{}, err
	}
	if src.Kind != plan.SourceSolid {
		return plan.Source{}, fmt.Errorf("expected procedural solid, got %s source %s", src.Kind, src)
	}
	return src, nil
}

// positiveKW reads a required positive number keyword.
func positiveKW(fn string, pa kwArgs, key string) (float64, error) {
	v, ok := pa.kw[key]
	if !ok {
		return 0, fmt.Errorf("%s: missing :%s", fn, key)
	}
	f, err := toFloat64(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %s: %w", fn, key, err)
	}
	if !(f > 0) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s: %s must be positive, got %g", fn, key, f)
	}
	return f, nil
}

// cellsKW reads the optional :cells keyword.
func cellsKW(fn string, pa kwArgs) (int, error) {
	v, ok := pa.kw["cells"]
	if !ok {
		return 0, nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("%s: cells: %w", fn, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: cells must be positive, got %d", fn, n)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Builtin registration
// ---------------------------------------------------------------------------

// registerBuiltins installs the job script builtins into a zygomys
// environment. `defcage` adds jobs to p; procedural sources build solids
// with k.
//
// Source code must be preprocessed with preprocessSource() before evaluation so
// that :keyword tokens are converted to recognizable string literals.
func registerBuiltins(env *zygo.Zlisp, p *plan.Plan, k kernel.Kernel) {

	// needKernel guards the procedural builtins.
	needKernel := func(fn string) error {
		if k == nil {
			return fmt.Errorf("%s: no geometry kernel configured", fn)
		}
		return nil
	}

	// -----------------------------------------------------------------------
	// (vec3 1 2 3)
	// -----------------------------------------------------------------------
	env.AddFunction("vec3", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 3 {
			return zygo.SexpNull, fmt.Errorf("vec3 requires exactly 3 arguments, got %d", len(args))
		}
		var xyz [3]float64
		for i, axis := range []string{"x", "y", "z"} {
			f, err := toFloat64(args[i])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("vec3: %s: %w", axis, err)
			}
			xyz[i] = f
		}
		return &sexpVec3{vec: v3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]}}, nil
	})

	// -----------------------------------------------------------------------
	// (load "rock_high.obj")
	// -----------------------------------------------------------------------
	env.AddFunction("load", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("load requires a path argument")
		}
		path, err := toString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("load: path: %w", err)
		}
		if strings.TrimSpace(path) == "" {
			return zygo.SexpNull, fmt.Errorf("load: empty path")
		}
		return &sexpSource{src: plan.FileSource(path)}, nil
	})

	// -----------------------------------------------------------------------
	// (icosphere :radius 1 :subdivisions 2)
	// -----------------------------------------------------------------------
	env.AddFunction("icosphere", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if err := pa.unknownKeywords("icosphere", "radius", "subdivisions"); err != nil {
			return zygo.SexpNull, err
		}
		r, err := positiveKW("icosphere", pa, "radius")
		if err != nil {
			return zygo.SexpNull, err
		}
		sub := 0
		if v, ok := pa.kw["subdivisions"]; ok {
			sub, err = toInt(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("icosphere: subdivisions: %w", err)
			}
			if sub < 0 {
				return zygo.SexpNull, fmt.Errorf("icosphere: subdivisions must not be negative, got %d", sub)
			}
		}
		return &sexpSource{src: plan.IcosphereSource(r, sub)}, nil
	})

	// -----------------------------------------------------------------------
	// (sphere :radius 0.98 :cells 48)
	// -----------------------------------------------------------------------
	env.AddFunction("sphere", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if err := needKernel("sphere"); err != nil {
			return zygo.SexpNull, err
		}
		pa := parseArgs(args)
		if err := pa.unknownKeywords("sphere", "radius", "cells"); err != nil {
			return zygo.SexpNull, err
		}
		r, err := positiveKW("sphere", pa, "radius")
		if err != nil {
			return zygo.SexpNull, err
		}
		cells, err := cellsKW("sphere", pa)
		if err != nil {
			return zygo.SexpNull, err
		}
		expr := fmt.Sprintf("(sphere :radius %g)", r)
		return &sexpSource{src: plan.SolidSource(k.Sphere(r), cells, expr)}, nil
	})

	// -----------------------------------------------------------------------
	// (box :x 1 :y 2 :z 0.5 :cells 48)
	// -----------------------------------------------------------------------
	env.AddFunction("box", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if err := needKernel("box"); err != nil {
			return zygo.SexpNull, err
		}
		pa := parseArgs(args)
		if err := pa.unknownKeywords("box", "x", "y", "z", "cells"); err != nil {
			return zygo.SexpNull, err
		}
		var size [3]float64
		for i, axis := range []string{"x", "y", "z"} {
			f, err := positiveKW("box", pa, axis)
			if err != nil {
				return zygo.SexpNull, err
			}
			size[i] = f
		}
		cells, err := cellsKW("box", pa)
		if err != nil {
			return zygo.SexpNull, err
		}
		expr := fmt.Sprintf("(box :x %g :y %g :z %g)", size[0], size[1], size[2])
		return &sexpSource{src: plan.SolidSource(k.Box(size[0], size[1], size[2]), cells, expr)}, nil
	})

	// -----------------------------------------------------------------------
	// (cylinder :height 2 :radius 0.5 :cells 48)
	// -----------------------------------------------------------------------
	env.AddFunction("cylinder", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if err := needKernel("cylinder"); err != nil {
			return zygo.SexpNull, err
		}
		pa := parseArgs(args)
		if err := pa.unknownKeywords("cylinder", "height", "radius", "cells"); err != nil {
			return zygo.SexpNull, err
		}
		h, err := positiveKW("cylinder", pa, "height")
		if err != nil {
			return zygo.SexpNull, err
		}
		r, err := positiveKW("cylinder", pa, "radius")
		if err != nil {
			return zygo.SexpNull, err
		}
		cells, err := cellsKW("cylinder", pa)
		if err != nil {
			return zygo.SexpNull, err
		}
		expr := fmt.Sprintf("(cylinder :height %g :radius %g)", h, r)
		return &sexpSource{src: plan.SolidSource(k.Cylinder(h, r), cells, expr)}, nil
	})

	// -----------------------------------------------------------------------
	// (union a b), (difference a b), (intersection a b)
	// -----------------------------------------------------------------------
	booleans := map[string]func(a, b kernel.Solid) kernel.Solid{}
	if k != nil {
		booleans["union"] = k.Union
		booleans["difference"] = k.Difference
		booleans["intersection"] = k.Intersection
	}
	for _, op := range []string{"union", "difference", "intersection"} {
		op := op
		env.AddFunction(op, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if err := needKernel(op); err != nil {
				return zygo.SexpNull, err
			}
			if len(args) != 2 {
				return zygo.SexpNull, fmt.Errorf("%s requires exactly 2 solids, got %d", op, len(args))
			}
			a, err := toSolid(args[0])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: first: %w", op, err)
			}
			b, err := toSolid(args[1])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: second: %w", op, err)
			}
			expr := fmt.Sprintf("(%s %s %s)", op, a.Expr, b.Expr)
			cells := lo.Max([]int{a.Cells, b.Cells})
			return &sexpSource{src: plan.SolidSource(booleans[op](a.Solid, b.Solid), cells, expr)}, nil
		})
	}

	// -----------------------------------------------------------------------
	// (translate solid :by (vec3 1 0 0)), (rotate solid :by (vec3 0 0 90))
	// -----------------------------------------------------------------------
	for _, op := range []string{"translate", "rotate"} {
		op := op
		env.AddFunction(op, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if err := needKernel(op); err != nil {
				return zygo.SexpNull, err
			}
			pa := parseArgs(args)
			if err := pa.unknownKeywords(op, "by"); err != nil {
				return zygo.SexpNull, err
			}
			if len(pa.positional) != 1 {
				return zygo.SexpNull, fmt.Errorf("%s requires one solid argument", op)
			}
			s, err := toSolid(pa.positional[0])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", op, err)
			}
			v, ok := pa.kw["by"]
			if !ok {
				return zygo.SexpNull, fmt.Errorf("%s: missing :by", op)
			}
			by, err := toVec3(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: by: %w", op, err)
			}
			var out kernel.Solid
			if op == "translate" {
				out = k.Translate(s.Solid, by.X, by.Y, by.Z)
			} else {
				out = k.Rotate(s.Solid, by.X, by.Y, by.Z)
			}
			expr := fmt.Sprintf("(%s %s :by (vec3 %g %g %g))", op, s.Expr, by.X, by.Y, by.Z)
			return &sexpSource{src: plan.SolidSource(out, s.Cells, expr)}, nil
		})
	}

	// -----------------------------------------------------------------------
	// (defcage "rock" :reference "rock_high.obj" :base (icosphere ...)
	//          :out "rock_cage.obj" :padding 0.0001 :max-iterations 50
	//          :stall :pairs :index :rtree)
	// -----------------------------------------------------------------------
	env.AddFunction("defcage", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if err := pa.unknownKeywords("defcage", "reference", "base", "out",
			"padding", "max-iterations", "stall", "index"); err != nil {
			return zygo.SexpNull, err
		}
		if len(pa.positional) != 1 {
			return zygo.SexpNull, fmt.Errorf("defcage requires a name argument")
		}
		jobName, err := toString(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("defcage: name: %w", err)
		}
		if strings.TrimSpace(jobName) == "" {
			return zygo.SexpNull, fmt.Errorf("defcage: empty name")
		}

		job := &plan.Job{Name: jobName}
		for _, key := range []string{"reference", "base"} {
			v, ok := pa.kw[key]
			if !ok {
				return zygo.SexpNull, fmt.Errorf("defcage %q: missing :%s", jobName, key)
			}
			src, err := toSource(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("defcage %q: %s: %w", jobName, key, err)
			}
			if key == "reference" {
				job.Reference = src
			} else {
				job.Base = src
			}
		}
		if v, ok := pa.kw["out"]; ok {
			out, err := toString(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("defcage %q: out: %w", jobName, err)
			}
			job.Out = out
		}
		if v, ok := pa.kw["padding"]; ok {
			f, err := toFloat64(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("defcage %q: padding: %w", jobName, err)
			}
			job.Overrides.Padding = lo.ToPtr(f)
		}
		if v, ok := pa.kw["max-iterations"]; ok {
			n, err := toInt(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("defcage %q: max-iterations: %w", jobName, err)
			}
			job.Overrides.MaxIterations = lo.ToPtr(n)
		}
		if v, ok := pa.kw["stall"]; ok {
			s, err := toKeywordString(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("defcage %q: stall: %w", jobName, err)
			}
			policy, err := cage.ParseStallPolicy(s)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("defcage %q: %w", jobName, err)
			}
			job.Overrides.Stall = lo.ToPtr(policy)
		}
		if v, ok := pa.kw["index"]; ok {
			s, err := toKeywordString(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("defcage %q: index: %w", jobName, err)
			}
			kind, err := cage.ParseIndexKind(s)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("defcage %q: %w", jobName, err)
			}
			job.Overrides.Index = lo.ToPtr(kind)
		}

		if err := p.AddJob(job); err != nil {
			return zygo.SexpNull, fmt.Errorf("defcage: %w", err)
		}
		return &sexpJob{job: job}, nil
	})
}
