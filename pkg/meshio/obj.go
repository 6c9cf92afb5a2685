// Package meshio reads and writes triangle meshes as Wavefront OBJ.
//
// Only vertex positions ("v") and faces ("f") are read; every other record
// is skipped. Polygons with more than three corners are fan triangulated.
package meshio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/chazu/cagebake/pkg/mesh"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// ErrSyntax is wrapped by every parse error ReadOBJ returns.
var ErrSyntax = errors.New("obj syntax error")

// ReadOBJ parses an OBJ stream into a mesh.
func ReadOBJ(r io.Reader) (*mesh.Mesh, error) {
	m := &mesh.Mesh{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		var err error
		switch fields[0] {
		case "v":
			err = readVertex(m, fields[1:])
		case "f":
			err = readFace(m, fields[1:])
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %v: %w", line, err, ErrSyntax)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read obj: %w", err)
	}
	return m, nil
}

func readVertex(m *mesh.Mesh, fields []string) error {
	if len(fields) < 3 {
		return fmt.Errorf("vertex needs 3 coordinates, found %d", len(fields))
	}
	var xyz [3]float64
	for i := range xyz {
		f, err := strconv.ParseFloat(fields[i], 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("bad coordinate %q", fields[i])
		}
		xyz[i] = f
	}
	m.Vertices = append(m.Vertices, v3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]})
	return nil
}

func readFace(m *mesh.Mesh, fields []string) error {
	if len(fields) < 3 {
		return fmt.Errorf("face needs at least 3 vertices, found %d", len(fields))
	}
	idx := make([]int, len(fields))
	for i, f := range fields {
		v, err := faceIndex(f, len(m.Vertices))
		if err != nil {
			return err
		}
		idx[i] = v
	}
	for j := 1; j+1 < len(idx); j++ {
		m.Faces = append(m.Faces, mesh.Face{idx[0], idx[j], idx[j+1]})
	}
	return nil
}

// faceIndex resolves one face corner ("7", "7/2", "7//3", "-1") to a
// zero-based vertex index.
func faceIndex(field string, count int) (int, error) {
	if slash := strings.IndexByte(field, '/'); slash >= 0 {
		field = field[:slash]
	}
	i, err := strconv.Atoi(field)
	if err != nil {
		return 0, fmt.Errorf("bad face index %q", field)
	}
	switch {
	case i > 0:
		i--
	case i < 0:
		i += count
	default:
		return 0, fmt.Errorf("face index 0 is invalid")
	}
	if i < 0 || i >= count {
		return 0, fmt.Errorf("face index %s out of range for %d vertices", field, count)
	}
	return i, nil
}

// WriteOBJ writes m as a single named object. Vertex order and face
// winding are preserved.
func WriteOBJ(w io.Writer, m *mesh.Mesh, name string) error {
	bw := bufio.NewWriter(w)
	if name != "" {
		fmt.Fprintf(bw, "o %s\n", name)
	}
	for _, v := range m.Vertices {
		fmt.Fprintf(bw, "v %s %s %s\n", formatFloat(v.X), formatFloat(v.Y), formatFloat(v.Z))
	}
	for _, f := range m.Faces {
		fmt.Fprintf(bw, "f %d %d %d\n", f[0]+1, f[1]+1, f[2]+1)
	}
	return bw.Flush()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// LoadOBJ reads an OBJ file from disk.
func LoadOBJ(path string) (*mesh.Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := ReadOBJ(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// SaveOBJ writes m to path, replacing any existing file.
func SaveOBJ(path string, m *mesh.Mesh, name string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteOBJ(f, m, name); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
