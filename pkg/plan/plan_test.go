package plan

import (
	"strings"
	"testing"

	"github.com/chazu/cagebake/pkg/cage"
	"github.com/samber/lo"
)

func sphereJob(name string) *Job {
	return &Job{
		Name:      name,
		Reference: FileSource(name + ".obj"),
		Base:      IcosphereSource(1, 1),
	}
}

func TestAddJobAndLookup(t *testing.T) {
	p := New()
	if err := p.AddJob(sphereJob("rock")); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}
	if err := p.AddJob(sphereJob("tree")); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}
	if err := p.AddJob(sphereJob("rock")); err == nil {
		t.Fatal("AddJob() accepted a duplicate name")
	}

	if p.Len() != 2 {
		t.Errorf("Len() = %d, want 2", p.Len())
	}
	if got := p.Names(); strings.Join(got, ",") != "rock,tree" {
		t.Errorf("Names() = %v, want [rock tree]", got)
	}
	if j := p.Lookup("tree"); j == nil || j.Name != "tree" {
		t.Errorf("Lookup(tree) = %v", j)
	}
	if p.Lookup("missing") != nil {
		t.Error("Lookup(missing) should return nil")
	}
}

func TestOutPath(t *testing.T) {
	j := sphereJob("rock")
	if got := j.OutPath(); got != "rock_cage.obj" {
		t.Errorf("OutPath() = %q, want rock_cage.obj", got)
	}
	j.Out = "out/rock.obj"
	if got := j.OutPath(); got != "out/rock.obj" {
		t.Errorf("OutPath() = %q, want out/rock.obj", got)
	}
}

func TestOverridesApply(t *testing.T) {
	base := cage.Config{Padding: 0.01, MaxIterations: 10, Stall: cage.StallOnCount}

	got := Overrides{}.Apply(base)
	if got.Padding != 0.01 || got.MaxIterations != 10 || got.Stall != cage.StallOnCount {
		t.Errorf("empty overrides changed config: %+v", got)
	}

	got = Overrides{
		Padding: lo.ToPtr(0.5),
		Stall:   lo.ToPtr(cage.StallOnPairs),
		Index:   lo.ToPtr(cage.IndexRTree),
	}.Apply(base)
	if got.Padding != 0.5 || got.MaxIterations != 10 || got.Stall != cage.StallOnPairs || got.Index != cage.IndexRTree {
		t.Errorf("Apply() = %+v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		jobs    []*Job
		wantErr string
	}{
		{
			name: "valid",
			jobs: []*Job{sphereJob("a"), sphereJob("b")},
		},
		{
			name:    "missing reference",
			jobs:    []*Job{{Name: "a", Base: IcosphereSource(1, 0)}},
			wantErr: "reference: missing",
		},
		{
			name:    "bad icosphere",
			jobs:    []*Job{{Name: "a", Reference: FileSource("r.obj"), Base: IcosphereSource(-1, 0)}},
			wantErr: "radius must be positive",
		},
		{
			name:    "nil solid",
			jobs:    []*Job{{Name: "a", Reference: Source{Kind: SourceSolid}, Base: IcosphereSource(1, 0)}},
			wantErr: "nil solid",
		},
		{
			name: "shared output",
			jobs: func() []*Job {
				a, b := sphereJob("a"), sphereJob("b")
				a.Out, b.Out = "same.obj", "./same.obj"
				return []*Job{a, b}
			}(),
			wantErr: "more than one job",
		},
		{
			name: "bad override",
			jobs: func() []*Job {
				a := sphereJob("a")
				a.Overrides.Padding = lo.ToPtr(-1.0)
				return []*Job{a}
			}(),
			wantErr: "padding",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New()
			for _, j := range tt.jobs {
				if err := p.AddJob(j); err != nil {
					t.Fatalf("AddJob() error = %v", err)
				}
			}
			errs := Validate(p, cage.DefaultConfig())
			if tt.wantErr == "" {
				if len(errs) != 0 {
					t.Fatalf("Validate() = %v, want none", errs)
				}
				return
			}
			found := lo.ContainsBy(errs, func(e ValidationError) bool {
				return strings.Contains(e.Error(), tt.wantErr)
			})
			if !found {
				t.Errorf("Validate() = %v, want an error containing %q", errs, tt.wantErr)
			}
		})
	}
}
