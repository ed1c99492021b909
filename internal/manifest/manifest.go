// Package manifest reads the files that describe snapshots, work inputs and
// pipelines.
//
// Manifests are YAML; JSON documents are accepted as the YAML subset they are.
// Decoding is strict: unknown fields, trailing documents and malformed entries
// are errors, so a typo never silently changes what is compared.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"upcheck/internal/fingerprint"
)

// ErrInvalid wraps every validation failure of a manifest.
var ErrInvalid = errors.New("invalid manifest")

// EntrySpec is one located fingerprint as written in a manifest.
type EntrySpec struct {
	// Location defaults to Path.
	Location string `yaml:"location"`
	Path     string `yaml:"path"`
	Kind     string `yaml:"kind"`

	// Digest is hex. It may be empty for directories and missing entries.
	Digest string `yaml:"digest"`
}

// SnapshotSpec is a manifest holding a single file set.
//
//	entries:
//	  - {location: /src/main/Foo.java, path: Foo.java, kind: regular, digest: 9f86d0}
type SnapshotSpec struct {
	Entries []EntrySpec `yaml:"entries"`
}

// InputsSpec is a manifest holding every input property of one unit of work.
//
//	work: compileJava
//	properties:
//	  Sources:
//	    - {path: Foo.java, kind: regular, digest: 9f86d0}
type InputsSpec struct {
	Work       string                 `yaml:"work"`
	Properties map[string][]EntrySpec `yaml:"properties"`
}

// Inputs is a decoded InputsSpec.
type Inputs struct {
	Work       string
	Properties map[string]fingerprint.Snapshot
}

// StepSpec describes one command step of a pipeline.
type StepSpec struct {
	Name string            `yaml:"name"`
	Run  string            `yaml:"run"`
	Env  map[string]string `yaml:"env"`
}

// PipelineSpec describes a pipeline.
//
//	name: docs
//	steps:
//	  - {name: render, run: "markdown", env: {PATH: /usr/bin}}
type PipelineSpec struct {
	Name  string     `yaml:"name"`
	Steps []StepSpec `yaml:"steps"`
}

// DecodeSnapshot reads a SnapshotSpec. Entries keep their file order.
func DecodeSnapshot(r io.Reader) (fingerprint.Snapshot, error) {
	var spec SnapshotSpec
	if err := decodeStrict(r, &spec); err != nil {
		return fingerprint.Snapshot{}, err
	}
	return buildSnapshot("entries", spec.Entries)
}

// LoadSnapshot reads a SnapshotSpec from path.
func LoadSnapshot(path string) (fingerprint.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return fingerprint.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	s, err := DecodeSnapshot(bytes.NewReader(b))
	if err != nil {
		return fingerprint.Snapshot{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// DecodeInputs reads an InputsSpec.
func DecodeInputs(r io.Reader) (Inputs, error) {
	var spec InputsSpec
	if err := decodeStrict(r, &spec); err != nil {
		return Inputs{}, err
	}
	var errs []error
	if strings.TrimSpace(spec.Work) == "" {
		errs = append(errs, fmt.Errorf("%w: work is required", ErrInvalid))
	}
	in := Inputs{Work: spec.Work, Properties: make(map[string]fingerprint.Snapshot, len(spec.Properties))}
	for name, entries := range spec.Properties {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Errorf("%w: property names must not be empty", ErrInvalid))
			continue
		}
		s, err := buildSnapshot("properties."+name, entries)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		in.Properties[name] = s
	}
	if err := errors.Join(errs...); err != nil {
		return Inputs{}, err
	}
	return in, nil
}

// LoadInputs reads an InputsSpec from path.
func LoadInputs(path string) (Inputs, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Inputs{}, fmt.Errorf("read inputs: %w", err)
	}
	in, err := DecodeInputs(bytes.NewReader(b))
	if err != nil {
		return Inputs{}, fmt.Errorf("%s: %w", path, err)
	}
	return in, nil
}

// DecodePipeline reads a PipelineSpec.
func DecodePipeline(r io.Reader) (PipelineSpec, error) {
	var spec PipelineSpec
	if err := decodeStrict(r, &spec); err != nil {
		return PipelineSpec{}, err
	}
	var errs []error
	if len(spec.Steps) == 0 {
		errs = append(errs, fmt.Errorf("%w: no steps", ErrInvalid))
	}
	seen := make(map[string]bool, len(spec.Steps))
	for i, st := range spec.Steps {
		if strings.TrimSpace(st.Name) == "" {
			errs = append(errs, fmt.Errorf("%w: steps[%d].name is required", ErrInvalid, i))
		} else if seen[st.Name] {
			errs = append(errs, fmt.Errorf("%w: steps[%d]: duplicate name %q", ErrInvalid, i, st.Name))
		}
		seen[st.Name] = true
		if strings.TrimSpace(st.Run) == "" {
			errs = append(errs, fmt.Errorf("%w: steps[%d].run is required", ErrInvalid, i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return PipelineSpec{}, err
	}
	return spec, nil
}

// LoadPipeline reads a PipelineSpec from path.
func LoadPipeline(path string) (PipelineSpec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return PipelineSpec{}, fmt.Errorf("read pipeline: %w", err)
	}
	spec, err := DecodePipeline(bytes.NewReader(b))
	if err != nil {
		return PipelineSpec{}, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}

// EncodeSnapshot writes s as a SnapshotSpec.
func EncodeSnapshot(w io.Writer, s fingerprint.Snapshot) error {
	spec := SnapshotSpec{Entries: make([]EntrySpec, 0, s.Len())}
	for loc, v := range s.All() {
		spec.Entries = append(spec.Entries, EntrySpec{
			Location: loc,
			Path:     v.NormalizedPath,
			Kind:     v.Kind.String(),
			Digest:   v.Digest.String(),
		})
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&spec); err != nil {
		return err
	}
	return enc.Close()
}

func decodeStrict(r io.Reader, dst any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty document", ErrInvalid)
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var trailing any
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data", ErrInvalid)
	}
	return nil
}

func buildSnapshot(field string, specs []EntrySpec) (fingerprint.Snapshot, error) {
	var errs []error
	entries := make([]fingerprint.Located, 0, len(specs))
	for i, e := range specs {
		v, err := e.value()
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s[%d]: %v", ErrInvalid, field, i, err))
			continue
		}
		loc := e.Location
		if loc == "" {
			loc = e.Path
		}
		entries = append(entries, fingerprint.Located{Location: loc, Value: v})
	}
	if err := errors.Join(errs...); err != nil {
		return fingerprint.Snapshot{}, err
	}
	s, err := fingerprint.NewSnapshot(entries...)
	if err != nil {
		return fingerprint.Snapshot{}, fmt.Errorf("%w: %s: %v", ErrInvalid, field, err)
	}
	return s, nil
}

func (e EntrySpec) value() (fingerprint.Value, error) {
	if e.Path == "" {
		return fingerprint.Value{}, errors.New("path is required")
	}
	kind, err := fingerprint.ParseKind(e.Kind)
	if err != nil {
		return fingerprint.Value{}, err
	}
	var digest fingerprint.Digest
	switch {
	case e.Digest != "":
		if digest, err = fingerprint.ParseDigest(e.Digest); err != nil {
			return fingerprint.Value{}, err
		}
	case kind == fingerprint.KindRegular:
		return fingerprint.Value{}, errors.New("digest is required for regular files")
	}
	return fingerprint.NewValue(e.Path, kind, digest), nil
}
