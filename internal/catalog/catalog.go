// Package catalog holds the static mapping from model discriminant to the
// provider model version and the variant's presentation settings.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"meshrelay/internal/domain"
)

// PLYVersion is the GaussianDreamer text-to-3D model version.
const PLYVersion = "138abc0aed076d5a1d3c17c5f157e9092e6279c8c1d7d92f1618dc7f707290a4"

// Variant describes one generative model variant.
type Variant struct {
	Type          domain.ModelType `json:"model"`
	Label         string           `json:"label"`
	Version       string           `json:"version,omitempty"`
	AcceptsImage  bool             `json:"accepts_image"`
	ArchiveSuffix string           `json:"archive_suffix"`
	Fields        []string         `json:"fields"`
}

// Configured reports whether the variant has a model version to submit to.
func (v Variant) Configured() bool {
	return strings.TrimSpace(v.Version) != ""
}

// Catalog is immutable after construction and safe for concurrent use.
type Catalog struct {
	variants map[domain.ModelType]Variant
	versions map[string]domain.ModelType
}

func defaults() []Variant {
	return []Variant{
		{
			Type:          domain.ModelDynamicGLB,
			AcceptsImage:  true,
			ArchiveSuffix: ".glb",
			Fields:        []string{"prompt", "image_type", "image_url", "image", "use_fast_configs", "guidance_scale", "num_steps", "seed"},
		},
		{
			Type:          domain.ModelPLY,
			Version:       PLYVersion,
			ArchiveSuffix: ".ply",
			Fields:        []string{"prompt", "negative_prompt", "guidance_scale", "max_steps", "avatar", "seed"},
		},
	}
}

// New builds the catalog from the built-in variants, replacing versions
// with any overrides keyed by discriminant. Overrides for unknown
// discriminants are rejected so typos surface at startup.
func New(overrides map[string]string) (*Catalog, error) {
	title := cases.Title(language.English)
	c := &Catalog{
		variants: make(map[domain.ModelType]Variant),
		versions: make(map[string]domain.ModelType),
	}
	for _, v := range defaults() {
		v.Label = title.String(strings.ReplaceAll(string(v.Type), "_", " "))
		c.variants[v.Type] = v
	}
	for rawType, version := range overrides {
		t := Normalize(rawType)
		v, ok := c.variants[t]
		if !ok {
			return nil, fmt.Errorf("catalog: unknown model %q in overrides", rawType)
		}
		v.Version = strings.TrimSpace(version)
		c.variants[t] = v
	}
	for t, v := range c.variants {
		if v.Configured() {
			c.versions[v.Version] = t
		}
	}
	return c, nil
}

// Normalize trims and case-folds a raw discriminant. A Caser keeps state,
// so one is built per call.
func Normalize(raw string) domain.ModelType {
	return domain.ModelType(cases.Fold().String(strings.TrimSpace(raw)))
}

// Resolve looks up a variant by its raw discriminant. Matching ignores
// surrounding space and letter case.
func (c *Catalog) Resolve(raw string) (Variant, error) {
	v, ok := c.variants[Normalize(raw)]
	if !ok {
		return Variant{}, domain.Validation(domain.ErrInvalidModelType, "Invalid model type")
	}
	return v, nil
}

// Version returns the model version for t. A known variant without a
// configured version is an operator error.
func (c *Catalog) Version(t domain.ModelType) (string, error) {
	v, ok := c.variants[t]
	if !ok {
		return "", domain.Validation(domain.ErrInvalidModelType, "Invalid model type")
	}
	if !v.Configured() {
		return "", domain.Configuration(domain.ErrModelNotConfigured, fmt.Sprintf("Model version not configured for %s", t))
	}
	return v.Version, nil
}

// ModelForVersion reverses the mapping; unknown versions return "".
func (c *Catalog) ModelForVersion(version string) domain.ModelType {
	return c.versions[strings.TrimSpace(version)]
}

// Variant returns the variant for t.
func (c *Catalog) Variant(t domain.ModelType) (Variant, bool) {
	v, ok := c.variants[t]
	return v, ok
}

// List returns all variants ordered by discriminant.
func (c *Catalog) List() []Variant {
	out := make([]Variant, 0, len(c.variants))
	for _, v := range c.variants {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
