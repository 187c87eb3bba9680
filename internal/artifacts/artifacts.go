package artifacts

import _ "embed"

// Embedded defaults

//go:embed defaults/settings.yaml
var DefaultSettings []byte

//go:embed defaults/fallback/index.html
var FallbackIndex []byte

//go:embed defaults/fallback/404.html
var FallbackNotFound []byte
