package types

// Model is one catalog entry: a checkpoint addressed by kind, scale and bucket.
type Model struct {
	// Model family: manga or illustration.
	// example: manga
	Kind string `json:"kind" example:"manga"`
	// Native upscale factor of the checkpoint.
	// example: 2
	Scale int `json:"scale" example:"2"`
	// Source height class for height buckets, quality tier otherwise.
	// example: 1600
	Bucket string `json:"bucket" example:"1600"`
	// File name as configured or scanned.
	// example: 2x_MangaJaNai_1600p_V1_ESRGAN_90k.safetensors
	File string `json:"file" example:"2x_MangaJaNai_1600p_V1_ESRGAN_90k.safetensors"`
	// Absolute path on disk.
	// example: /home/user/.mu_models/2x_MangaJaNai_1600p_V1_ESRGAN_90k.safetensors
	Path string `json:"path" example:"/home/user/.mu_models/2x_MangaJaNai_1600p_V1_ESRGAN_90k.safetensors"`
	// Whether the file is present.
	// example: true
	Exists bool `json:"exists" example:"true"`
}
