// Package normalize turns raw form submissions into typed, model-specific
// generation requests.
package normalize

import (
	"strings"

	"meshrelay/internal/catalog"
	"meshrelay/internal/domain"
)

// Field names shared by the browser form and the CLI.
const (
	FieldModelType      = "model_type"
	FieldModelAlias     = "model"
	FieldPrompt         = "prompt"
	FieldNegativePrompt = "negative_prompt"
	FieldGuidanceScale  = "guidance_scale"
	FieldMaxSteps       = "max_steps"
	FieldNumSteps       = "num_steps"
	FieldAvatar         = "avatar"
	FieldSeed           = "seed"
	FieldUseFastConfigs = "use_fast_configs"
	FieldImageType      = "image_type"
	FieldImageURL       = "image_url"
	FieldImage          = "image"
)

// Image source choices for image-conditioned variants.
const (
	ImageTypeURL    = "url"
	ImageTypeUpload = "upload"
)

// PLYInput is the text-to-splat schema.
type PLYInput struct {
	Prompt         *string  `json:"prompt,omitempty"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	GuidanceScale  *float64 `json:"guidance_scale,omitempty"`
	MaxSteps       *int64   `json:"max_steps,omitempty"`
	Avatar         bool     `json:"avatar,omitempty"`
	Seed           *int64   `json:"seed,omitempty"`
}

func (PLYInput) ModelType() domain.ModelType { return domain.ModelPLY }

// PLY takes no image.
func (in PLYInput) WithImageURL(string) domain.ModelInput { return in }

// DynamicGLBInput is the image/text-to-mesh schema.
type DynamicGLBInput struct {
	Prompt         *string  `json:"prompt,omitempty"`
	Image          string   `json:"image,omitempty"`
	UseFastConfigs bool     `json:"use_fast_configs,omitempty"`
	GuidanceScale  *float64 `json:"guidance_scale,omitempty"`
	NumSteps       *int64   `json:"num_steps,omitempty"`
	Seed           *int64   `json:"seed,omitempty"`
}

func (DynamicGLBInput) ModelType() domain.ModelType { return domain.ModelDynamicGLB }

func (in DynamicGLBInput) WithImageURL(url string) domain.ModelInput {
	in.Image = url
	return in
}

// Normalizer is stateless apart from the catalog and safe for concurrent use.
type Normalizer struct {
	catalog *catalog.Catalog
}

func New(c *catalog.Catalog) *Normalizer {
	return &Normalizer{catalog: c}
}

// Normalize validates the discriminant and builds the variant's input.
// Uploaded images are returned on the request for the caller to relay; the
// input's image field stays empty until then.
func (n *Normalizer) Normalize(form Form) (*domain.GenerationRequest, error) {
	raw, ok := form.Value(FieldModelType)
	if !ok {
		raw, _ = form.Value(FieldModelAlias)
	}
	variant, err := n.catalog.Resolve(raw)
	if err != nil {
		return nil, err
	}

	req := &domain.GenerationRequest{Model: variant.Type}
	switch variant.Type {
	case domain.ModelPLY:
		req.Input = plyInput(form)
	case domain.ModelDynamicGLB:
		in := dynamicGLBInput(form)
		img, err := imageRef(form)
		if err != nil {
			return nil, err
		}
		if img != nil && img.URL != "" {
			in.Image = img.URL
		}
		req.Input = in
		req.Image = img
	default:
		return nil, domain.Validation(domain.ErrInvalidModelType, "Invalid model type")
	}
	return req, nil
}

func plyInput(form Form) PLYInput {
	in := PLYInput{
		Prompt:        optionalString(form, FieldPrompt),
		GuidanceScale: optionalFloat(form, FieldGuidanceScale),
		MaxSteps:      optionalInt(form, FieldMaxSteps),
		Avatar:        checkbox(form, FieldAvatar),
		Seed:          optionalInt(form, FieldSeed),
	}
	if v, ok := form.Value(FieldNegativePrompt); ok {
		in.NegativePrompt = v
	}
	return in
}

func dynamicGLBInput(form Form) DynamicGLBInput {
	return DynamicGLBInput{
		Prompt:         optionalString(form, FieldPrompt),
		UseFastConfigs: checkbox(form, FieldUseFastConfigs),
		GuidanceScale:  optionalFloat(form, FieldGuidanceScale),
		NumSteps:       optionalInt(form, FieldNumSteps),
		Seed:           optionalInt(form, FieldSeed),
	}
}

// imageRef resolves the image source. Upload mode demands a non-empty file;
// URL mode (and anything unrecognised) uses image_url when present.
func imageRef(form Form) (*domain.ImageRef, error) {
	mode, _ := form.Value(FieldImageType)
	if strings.EqualFold(strings.TrimSpace(mode), ImageTypeUpload) {
		blob, err := form.File(FieldImage)
		if err != nil {
			return nil, domain.Validation(err, "Invalid image upload")
		}
		if blob == nil || blob.Empty() {
			return nil, domain.Validation(domain.ErrMissingAsset, "No image file provided")
		}
		return &domain.ImageRef{Upload: blob}, nil
	}
	url, _ := form.Value(FieldImageURL)
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, nil
	}
	return &domain.ImageRef{URL: url}, nil
}

func optionalString(form Form, name string) *string {
	v, ok := form.Value(name)
	if !ok {
		return nil
	}
	return &v
}

func optionalFloat(form Form, name string) *float64 {
	raw, ok := form.Value(name)
	if !ok {
		return nil
	}
	f, ok := parseFloatField(raw)
	if !ok {
		return nil
	}
	return &f
}

func optionalInt(form Form, name string) *int64 {
	raw, ok := form.Value(name)
	if !ok {
		return nil
	}
	v, ok := parseIntField(raw)
	if !ok {
		return nil
	}
	return &v
}

func checkbox(form Form, name string) bool {
	raw, ok := form.Value(name)
	return ok && parseCheckbox(raw)
}
