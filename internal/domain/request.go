package domain

// ModelType is the discriminant selecting a model variant and its input schema.
type ModelType string

const (
	ModelDynamicGLB ModelType = "dynamic_glb"
	ModelPLY        ModelType = "ply"
)

// ModelInput is a variant-specific input record sent verbatim as the
// prediction's input.
type ModelInput interface {
	ModelType() ModelType
	// WithImageURL returns a copy referencing the given image. Variants
	// without an image field return themselves.
	WithImageURL(url string) ModelInput
}

// ImageRef points at the conditioning image, either inline or external.
type ImageRef struct {
	URL    string
	Upload *Blob
}

// GenerationRequest is one user submission.
type GenerationRequest struct {
	Model          ModelType
	Input          ModelInput
	Image          *ImageRef
	IdempotencyKey string
}
