package templating

// Config holds all configuration options for template resolution and
// include inlining.
type Config struct {
	// MaxIncludeDepth is the longest chain of nested includes the inliner
	// will follow before giving up. It also bounds the number of rescans
	// performed on an assembled template.
	MaxIncludeDepth int `json:"max_include_depth"`

	// MaxTemplateBytes sets a hard upper limit on the size of a fully
	// inlined template. Includes that fan out exponentially hit this limit
	// long before they exhaust memory.
	MaxTemplateBytes int64 `json:"max_template_bytes"`

	// IncludePrefix is prepended to the last segment of an include name to
	// form its file name, so "partials/nav" becomes "partials/_nav.html".
	IncludePrefix string `json:"include_prefix"`

	// IncludeExt is the file extension appended to include file names.
	IncludeExt string `json:"include_ext"`
}

// DefaultConfig returns a Config with safe default values.
func DefaultConfig() Config {
	return Config{
		MaxIncludeDepth:  16,
		MaxTemplateBytes: 8 << 20, // 8MB
		IncludePrefix:    "_",
		IncludeExt:       ".html",
	}
}

// withDefaults fills in zero values so a partially written config file
// cannot disable the include bounds.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxIncludeDepth <= 0 {
		c.MaxIncludeDepth = def.MaxIncludeDepth
	}
	if c.MaxTemplateBytes <= 0 {
		c.MaxTemplateBytes = def.MaxTemplateBytes
	}
	if c.IncludeExt == "" {
		c.IncludeExt = def.IncludeExt
	}
	return c
}
